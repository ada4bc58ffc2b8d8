package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/incidenthq/incidentd/server"
)

// These variables are populated via the Go linker.
var (
	version = "unknown"
	commit  = "unknown"
)

func main() {
	m := NewMain()
	if err := m.Run(os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewMain() *Main {
	return &Main{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run determines and runs the command specified by the CLI args.
func (m *Main) Run(args ...string) error {
	name, args := ParseCommandName(args)

	switch name {
	case "", "run":
		cmd := NewRunCommand()
		cmd.Version = version
		if err := cmd.Run(args...); err != nil {
			return fmt.Errorf("run: %s", err)
		}

		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	Loop:
		for range signalCh {
			go func() {
				cmd.Close()
			}()
			break Loop
		}

		// Block until another signal is received, a shutdown timeout
		// elapses, or the server closes cleanly.
		select {
		case <-signalCh:
			fmt.Fprintln(m.Stderr, "second signal received, initializing hard shutdown")
		case <-time.After(30 * time.Second):
			fmt.Fprintln(m.Stderr, "time limit reached, initializing hard shutdown")
		case <-cmd.Closed:
		}

	case "config":
		if err := NewPrintConfigCommand().Run(args...); err != nil {
			return fmt.Errorf("config: %s", err)
		}
	case "version":
		fmt.Fprintf(m.Stdout, "incidentd version %s (git: %s)\n", version, commit)
	default:
		return fmt.Errorf(`unknown command "%s"`+"\n"+`Run 'incidentd help' for usage`, name)
	}

	return nil
}

// ParseCommandName extracts the command name and args from the args list.
func ParseCommandName(args []string) (string, []string) {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name = args[0]
	}
	if name != "" {
		return name, args[1:]
	}
	return "", args
}

// RunCommand starts the daemon and monitors its error channel.
type RunCommand struct {
	Version string

	closing chan struct{}
	Closed  chan struct{}

	Stderr io.Writer

	Server *server.Server
}

func NewRunCommand() *RunCommand {
	return &RunCommand{
		closing: make(chan struct{}),
		Closed:  make(chan struct{}),
		Stderr:  os.Stderr,
	}
}

func (cmd *RunCommand) Run(args ...string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration file")
	fs.Usage = func() { fmt.Fprintln(cmd.Stderr, runUsage) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	config, err := server.Load(*configPath)
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}

	s, err := server.New(config, cmd.Version)
	if err != nil {
		return fmt.Errorf("create server: %s", err)
	}
	if err := s.Open(); err != nil {
		return fmt.Errorf("open server: %s", err)
	}
	cmd.Server = s

	go cmd.monitorServerErrors()
	return nil
}

func (cmd *RunCommand) Close() error {
	defer close(cmd.Closed)
	close(cmd.closing)
	if cmd.Server != nil {
		return cmd.Server.Close()
	}
	return nil
}

func (cmd *RunCommand) monitorServerErrors() {
	for {
		select {
		case err := <-cmd.Server.Err():
			if err != nil {
				fmt.Fprintln(cmd.Stderr, "E! "+err.Error())
			}
		case <-cmd.closing:
			return
		}
	}
}

// PrintConfigCommand prints a demo configuration to stdout.
type PrintConfigCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewPrintConfigCommand() *PrintConfigCommand {
	return &PrintConfigCommand{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (cmd *PrintConfigCommand) Run(args ...string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(cmd.Stderr, "usage: config\n\nconfig prints a commented demo configuration") }
	if err := fs.Parse(args); err != nil {
		return err
	}
	return toml.NewEncoder(cmd.Stdout).Encode(server.NewDemoConfig())
}

var runUsage = `usage: run [flags]

run starts the incidentd server.

        -config <path>
                          Set the path to the configuration file.
`
