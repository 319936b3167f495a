package cliui

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/notifications"
)

// Table returns a writer with the style used for every list command.
func Table() table.Writer {
	tableWriter := table.NewWriter()
	tableWriter.SetStyle(table.StyleLight)
	tableWriter.Style().Options.SeparateColumns = false
	return tableWriter
}

type ChannelsOptions struct {
	Title string
	// Destinations marks channel refs that resolve to a webhook. When nil
	// the destination column is hidden.
	Destinations *notifications.Destinations
}

// Channels renders configured channels grouped by notification type.
// ┌────────────────────────────────────────────────────────────────┐
// │ TYPE / CHANNEL        OWNER FILTER   IGNORE RESIDENTS   DEST   │
// ├────────────────────────────────────────────────────────────────┤
// │ territory_enter                                                │
// │ ├─ alerts-redwood     Redwood        yes                ✔      │
// │ └─ alerts-sable       Sable          no                 ✘      │
// └────────────────────────────────────────────────────────────────┘
func Channels(writer io.Writer, configs []channels.Config, options ChannelsOptions) error {
	configs = append([]channels.Config(nil), configs...)
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Kind != configs[j].Kind {
			return configs[i].Kind < configs[j].Kind
		}
		return configs[i].ChannelRef < configs[j].ChannelRef
	})

	tableWriter := Table()
	if options.Title != "" {
		tableWriter.SetTitle(options.Title)
	}
	header := table.Row{"Type / Channel", "Owner filter", "Ignore residents"}
	if options.Destinations != nil {
		header = append(header, "Destination")
	}
	tableWriter.AppendHeader(header)

	for i := 0; i < len(configs); {
		kind := configs[i].Kind
		end := i
		for end < len(configs) && configs[end].Kind == kind {
			end++
		}
		tableWriter.AppendRow(table.Row{string(kind)})
		for j := i; j < end; j++ {
			c := configs[j]
			pipe := "├"
			if j == end-1 {
				pipe = "└"
			}
			row := table.Row{
				fmt.Sprintf("%s─ %s", pipe, c.ChannelRef),
				ownerFilter(c.OwnerFilter),
				yesNo(c.IgnoreIfResident),
			}
			if options.Destinations != nil {
				row = append(row, destinationStatus(options.Destinations, c.ChannelRef))
			}
			tableWriter.AppendRow(row)
		}
		tableWriter.AppendSeparator()
		i = end
	}

	_, err := fmt.Fprintln(writer, tableWriter.Render())
	return err
}

func ownerFilter(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func destinationStatus(d *notifications.Destinations, ref string) string {
	if _, ok := d.Resolve(ref); ok {
		return "✔ resolves"
	}
	return "✘ unresolved"
}
