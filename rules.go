package gorules

import (
	"github.com/quasilyte/go-ruleguard/dsl"
)

// Use xerrors everywhere! It provides additional stacktrace info!
//
//nolint:unused,deadcode,varnamelen
func xerrors(m dsl.Matcher) {
	m.Import("errors")
	m.Import("fmt")
	m.Import("golang.org/x/xerrors")

	m.Match("fmt.Errorf($*args)").
		Suggest("xerrors.New($args)").
		Report("Use xerrors to provide additional stacktrace information!")

	m.Match("fmt.Errorf($*args)").
		Suggest("xerrors.Errorf($args)").
		Report("Use xerrors to provide additional stacktrace information!")

	m.Match("errors.New($msg)").
		Where(m["msg"].Type.Is("string")).
		Suggest("xerrors.New($msg)").
		Report("Use xerrors to provide additional stacktrace information!")
}

// Rows store millisecond timestamps, so code writing rows must round
// times through dbtime.
//
//nolint:unused,deadcode,varnamelen
func dbtimeNow(m dsl.Matcher) {
	m.Import("time")

	m.Match("time.Now()").
		Where(m.File().PkgPath.Matches(`borderd/(channels|residency)$`)).
		Suggest("dbtime.Now()").
		Report("Use dbtime.Now() so stored times are UTC and truncated to milliseconds.")
}

// The presence engine and registry take a quartz.Clock so tests can drive
// ticks deterministically.
//
//nolint:unused,deadcode,varnamelen
func clockNow(m dsl.Matcher) {
	m.Import("time")

	m.Match("time.Now()", "time.Since($_)", "time.NewTicker($_)").
		Where(m.File().PkgPath.Matches(`borderd/presence`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("Use the injected quartz.Clock instead of the time package.")
}

// Log fields must be structured.
//
//nolint:unused,deadcode,varnamelen
func slogFields(m dsl.Matcher) {
	m.Import("cdr.dev/slog/v3")

	m.Match(
		`$logger.$lvl($ctx, fmt.Sprintf($*_), $*_)`,
		`$logger.$lvl($ctx, fmt.Sprintf($*_))`,
	).
		Where(m["lvl"].Text.Matches(`^(Debug|Info|Warn|Error|Critical)$`)).
		Report("Pass values as slog.F fields instead of formatting the message.")
}
