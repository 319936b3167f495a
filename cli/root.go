package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/coder/serpent"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/database"
	"github.com/borderwatch/borderwatch/buildinfo"
)

const (
	varDBPath = "db-path"
	envDBPath = "BORDERWATCH_DB_PATH"
)

// RootCmd carries the options shared by every subcommand.
type RootCmd struct {
	dbPath serpent.String

	// Clock drives the server ticker and channel timestamps. Tests replace
	// it with a mock.
	Clock quartz.Clock
}

func (r *RootCmd) clock() quartz.Clock {
	if r.Clock == nil {
		r.Clock = quartz.NewReal()
	}
	return r.Clock
}

// AGPL returns every borderwatch subcommand.
func (r *RootCmd) AGPL() []*serpent.Command {
	// Please re-sort this list alphabetically if you change it!
	return []*serpent.Command{
		r.channels(),
		r.server(),
		r.version(),
	}
}

func (r *RootCmd) Command(subcommands []*serpent.Command) *serpent.Command {
	fmtLong := `borderwatch %s announces players entering watched territories and summarizes their visit when they leave.
`
	cmd := &serpent.Command{
		Use: "borderwatch",
		Long: fmt.Sprintf(fmtLong, buildinfo.Version()) + formatExamples(
			example{
				Description: "Subscribe a channel to entries into territories owned by Redwood",
				Command:     "borderwatch channels add alerts-redwood --owner Redwood",
			},
			example{
				Description: "Start watching",
				Command:     "borderwatch server --world-url https://map.example.com/api --destinations destinations.yaml",
			},
		),
		Children: subcommands,
	}
	cmd.Options = serpent.OptionSet{
		{
			Name:        "Database Path",
			Flag:        varDBPath,
			Env:         envDBPath,
			Description: "Path to the SQLite database holding channel subscriptions and residency sightings.",
			Default:     "borderwatch.db",
			Value:       &r.dbPath,
		},
	}
	return cmd
}

// RunWithSubcommands runs the root command with the process arguments and
// exits non-zero on error.
func (r *RootCmd) RunWithSubcommands(subcommands []*serpent.Command) {
	err := r.Command(subcommands).Invoke().WithOS().Run()
	if err != nil {
		if xerrors.Is(err, context.Canceled) {
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRegistry opens the database and wraps it in a channel registry. The
// returned function closes the database.
func (r *RootCmd) openRegistry(inv *serpent.Invocation) (*channels.Registry, func(), error) {
	db, err := database.Open(inv.Context(), r.dbPath.String())
	if err != nil {
		return nil, nil, xerrors.Errorf("open database: %w", err)
	}
	return channels.New(db, r.clock()), func() { _ = db.Close() }, nil
}

// example represents a standard example for command usage, to be used
// with formatExamples.
type example struct {
	Description string
	Command     string
}

// formatExamples formats the examples as bulletpoint descriptions with the
// command underneath.
func formatExamples(examples ...example) string {
	var sb strings.Builder
	for i, e := range examples {
		if len(e.Description) > 0 {
			_, _ = sb.WriteString("  - " + e.Description + ":\n\n")
		}
		_, _ = sb.WriteString("      $ " + e.Command)
		if i < len(examples)-1 {
			_, _ = sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
