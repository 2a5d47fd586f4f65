/*
Package cli provides command-line interface utilities for the tracekit
command.

Output Formatting:

Commands print a Record, an ordered list of key/value fields, in text, JSON
or CSV:

	rec := cli.Record{}.Add("trace_id", id).Add("sampled", "true")
	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, rec)

Errors:

ConfigError and CommandError carry the failing field or command. ExitCode
maps them to the process exit status.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
