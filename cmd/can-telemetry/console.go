package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/api"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

var consoleSuggests = []prompt.Suggest{
	{Text: "motor", Description: "motor <0-255>: set motor speed"},
	{Text: "mode", Description: "mode lux|range: switch the light sensor"},
	{Text: "show", Description: "print the current snapshot"},
	{Text: "export", Description: "export <file>: write history as CSV"},
	{Text: "reset", Description: "clear history"},
	{Text: "help", Description: "list commands"},
	{Text: "quit", Description: "stop the daemon"},
}

// console executes operator commands against the running daemon.
type console struct {
	agg  api.Snapshotter
	cmd  api.Commander
	hist api.History
	out  io.Writer
	quit func()
}

func (c *console) exec(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(verb) {
	case "motor", "speed", "mode":
		cmd, err := telemetry.ParseCommand(line)
		if err == nil {
			err = c.cmd.Send(cmd)
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "ok %s\n", cmd)
	case "show":
		c.show()
	case "export":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: export <file>")
			return
		}
		if err := c.export(arg); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "wrote %d samples to %s\n", c.hist.Len(), arg)
	case "reset":
		c.hist.Reset()
		fmt.Fprintln(c.out, "history cleared")
	case "help", "?":
		for _, s := range consoleSuggests {
			fmt.Fprintf(c.out, "  %-7s %s\n", s.Text, s.Description)
		}
	case "quit", "exit":
		if c.quit != nil {
			c.quit()
		}
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", verb)
	}
}

func (c *console) show() {
	v := aggregate.NewView(c.agg.Snapshot(), c.agg.Status(), c.cmd.Mode())
	for _, f := range telemetry.Fields() {
		fmt.Fprintf(c.out, "  %-12s %10.3f %s\n", f, v.Values[f.String()], v.Units[f.String()])
	}
	fmt.Fprintf(c.out, "  mode=%s light=%s temperature=%s connected=%t decode_errors=%d\n",
		v.DisplayMode, v.LightState, v.TemperatureState, v.Connected, v.DecodeErrors)
}

func (c *console) export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.hist.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(consoleSuggests, d.GetWordBeforeCursor(), true)
}

// run reads commands from in until EOF. A terminal gets line editing and
// completion; anything else (pipe, file) is read line by line.
func (c *console) run(in *os.File) {
	if isatty.IsTerminal(in.Fd()) {
		prompt.New(c.exec, c.complete, prompt.OptionPrefix("can> ")).Run()
		return
	}
	c.scan(in)
}

func (c *console) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		c.exec(sc.Text())
	}
}
