package cli

import (
	"encoding/json"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/coder/serpent"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/cli/cliui"
)

func (r *RootCmd) channels() *serpent.Command {
	return &serpent.Command{
		Use:     "channels",
		Short:   "Manage which channels are notified about territory entries",
		Aliases: []string{"channel"},
		Children: []*serpent.Command{
			r.channelsAdd(),
			r.channelsDelete(),
			r.channelsList(),
			r.channelsUpdate(),
		},
	}
}

func kindOption(kind *string) serpent.Option {
	kinds := make([]string, 0, len(channels.Kinds()))
	for _, k := range channels.Kinds() {
		kinds = append(kinds, string(k))
	}
	return serpent.Option{
		Flag:        "type",
		Description: "Notification type the channel subscribes to.",
		Default:     string(channels.KindTerritoryEnter),
		Value:       serpent.EnumOf(kind, kinds...),
	}
}

func (r *RootCmd) channelsAdd() *serpent.Command {
	var (
		kind             string
		ownerFilter      string
		ignoreIfResident bool
	)
	return &serpent.Command{
		Use:        "add <channel-ref>",
		Short:      "Subscribe a channel",
		Long:       "The channel reference is either a name from the destinations file or a webhook URL.",
		Middleware: serpent.RequireNArgs(1),
		Options: serpent.OptionSet{
			kindOption(&kind),
			{
				Flag:        "owner",
				Description: "Only notify about territories owned by this affiliation.",
				Value:       serpent.StringOf(&ownerFilter),
			},
			{
				Flag:        "ignore-if-resident",
				Description: "Skip players who appear to live in a territory of the same owner.",
				Value:       serpent.BoolOf(&ignoreIfResident),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			registry, closeDB, err := r.openRegistry(inv)
			if err != nil {
				return err
			}
			defer closeDB()

			c := channels.Config{
				Kind:             channels.Kind(kind),
				ChannelRef:       inv.Args[0],
				OwnerFilter:      ownerFilter,
				IgnoreIfResident: ignoreIfResident,
			}
			err = registry.Add(inv.Context(), c)
			if xerrors.Is(err, channels.ErrExists) {
				return xerrors.Errorf("channel %q is already subscribed to %s", c.ChannelRef, c.Kind)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(inv.Stdout, "Subscribed %s to %s\n", c.ChannelRef, c.Kind)
			return nil
		},
	}
}

func (r *RootCmd) channelsUpdate() *serpent.Command {
	var (
		kind             string
		newRef           string
		newKind          string
		ownerFilter      string
		ignoreIfResident bool
	)
	return &serpent.Command{
		Use:        "update <channel-ref>",
		Short:      "Replace a channel subscription",
		Long:       "The subscription matched by the channel reference and --type is replaced with the given settings. Unset settings are cleared.",
		Middleware: serpent.RequireNArgs(1),
		Options: serpent.OptionSet{
			kindOption(&kind),
			{
				Flag:        "new-ref",
				Description: "Move the subscription to another channel reference.",
				Value:       serpent.StringOf(&newRef),
			},
			{
				Flag:        "new-type",
				Description: "Change the notification type. Defaults to --type.",
				Value:       serpent.StringOf(&newKind),
			},
			{
				Flag:        "owner",
				Description: "Only notify about territories owned by this affiliation.",
				Value:       serpent.StringOf(&ownerFilter),
			},
			{
				Flag:        "ignore-if-resident",
				Description: "Skip players who appear to live in a territory of the same owner.",
				Value:       serpent.BoolOf(&ignoreIfResident),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			registry, closeDB, err := r.openRegistry(inv)
			if err != nil {
				return err
			}
			defer closeDB()

			keys := channels.MatchKeys{ChannelRef: inv.Args[0], Kind: channels.Kind(kind)}
			c := channels.Config{
				Kind:             keys.Kind,
				ChannelRef:       keys.ChannelRef,
				OwnerFilter:      ownerFilter,
				IgnoreIfResident: ignoreIfResident,
			}
			if newRef != "" {
				c.ChannelRef = newRef
			}
			if newKind != "" {
				c.Kind = channels.Kind(newKind)
			}

			err = registry.Update(inv.Context(), keys, c)
			switch {
			case xerrors.Is(err, channels.ErrNotFound):
				return xerrors.Errorf("channel %q is not subscribed to %s", keys.ChannelRef, keys.Kind)
			case xerrors.Is(err, channels.ErrExists):
				return xerrors.Errorf("channel %q is already subscribed to %s", c.ChannelRef, c.Kind)
			case err != nil:
				return err
			}
			_, _ = fmt.Fprintf(inv.Stdout, "Updated %s (%s)\n", c.ChannelRef, c.Kind)
			return nil
		},
	}
}

func (r *RootCmd) channelsList() *serpent.Command {
	var (
		kind             string
		channelRef       string
		output           string
		destinationsPath string
	)
	return &serpent.Command{
		Use:        "list",
		Short:      "List channel subscriptions",
		Aliases:    []string{"ls"},
		Middleware: serpent.RequireNArgs(0),
		Options: serpent.OptionSet{
			{
				Flag:        "type",
				Description: "Only list subscriptions of this notification type.",
				Value:       serpent.StringOf(&kind),
			},
			{
				Flag:        "ref",
				Description: "Only list subscriptions of this channel reference.",
				Value:       serpent.StringOf(&channelRef),
			},
			{
				Flag:          "output",
				FlagShorthand: "o",
				Description:   "Output format.",
				Default:       "table",
				Value:         serpent.EnumOf(&output, "table", "json"),
			},
			{
				Flag:        "destinations",
				Env:         "BORDERWATCH_DESTINATIONS",
				Description: "Destinations file used to report whether each channel resolves.",
				Value:       serpent.StringOf(&destinationsPath),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			if kind != "" && !channels.Kind(kind).Valid() {
				return xerrors.Errorf("unknown notification type %q", kind)
			}
			registry, closeDB, err := r.openRegistry(inv)
			if err != nil {
				return err
			}
			defer closeDB()

			configs, err := registry.List(inv.Context(), channels.Filter{
				ChannelRef: channelRef,
				Kind:       channels.Kind(kind),
			})
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(inv.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(configs)
			}

			var opts cliui.ChannelsOptions
			if destinationsPath != "" {
				opts.Destinations, err = notifications.LoadDestinations(destinationsPath)
				if err != nil {
					return err
				}
			}
			if len(configs) == 0 {
				_, _ = fmt.Fprintln(inv.Stdout, "No channels are subscribed.")
				return nil
			}
			return cliui.Channels(inv.Stdout, configs, opts)
		},
	}
}

func (r *RootCmd) channelsDelete() *serpent.Command {
	var kind string
	return &serpent.Command{
		Use:        "delete <channel-ref>",
		Short:      "Unsubscribe a channel",
		Long:       "Removes every subscription of the channel reference, or only the one of --type.",
		Aliases:    []string{"rm"},
		Middleware: serpent.RequireNArgs(1),
		Options: serpent.OptionSet{
			{
				Flag:        "type",
				Description: "Only remove the subscription of this notification type.",
				Value:       serpent.StringOf(&kind),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			registry, closeDB, err := r.openRegistry(inv)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := registry.Delete(inv.Context(), channels.Filter{
				ChannelRef: inv.Args[0],
				Kind:       channels.Kind(kind),
			})
			if err != nil {
				return err
			}
			if n == 0 {
				return xerrors.Errorf("channel %q has no matching subscriptions", inv.Args[0])
			}
			_, _ = fmt.Fprintf(inv.Stdout, "Deleted %d subscription(s) of %s\n", n, inv.Args[0])
			return nil
		},
	}
}
