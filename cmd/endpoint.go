package cmd

import (
	"bufio"
	"context"
	"fmt"
	"image/color"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genbalink/genbalink/internal/app"
	"github.com/genbalink/genbalink/internal/call"
	"github.com/genbalink/genbalink/internal/channel"
	"github.com/genbalink/genbalink/internal/config"
	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/util"
)

func newConsoleCmd() *cobra.Command {
	return newEndpointCmd(identity.RoleConsole, "Run the control console endpoint")
}

func newFieldCmd() *cobra.Command {
	return newEndpointCmd(identity.RoleField, "Run the field terminal endpoint")
}

func newEndpointCmd(role identity.Role, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   string(role),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			bindEndpointFlags(v, cmd)

			cfg, err := config.EndpointFromViper(v, role)
			if err != nil {
				return err
			}
			if cfg.Debug {
				util.EnableDebug()
			}
			return runEndpoint(cfg)
		},
	}

	c.Flags().String("site", "", "site identifier shared by both endpoints")
	c.Flags().String("signal", "", "rendezvous WebSocket URL (ws:// or wss://)")
	c.Flags().String("token", "", "bearer token presented to the rendezvous service")
	c.Flags().Bool("debug", false, "verbose logging")
	return c
}

func bindEndpointFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, name := range []string{"site", "signal", "token", "debug"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

// runEndpoint brings one endpoint up and drives it from an interactive
// command prompt until interrupted.
func runEndpoint(cfg config.Endpoint) error {
	core, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.OnStatusMessage(func(msg string) {
		util.LogInfo("%s", msg)
	})
	core.OnIDConflict(func(error) {
		pterm.Error.Println("this site identifier is already in use by another live session")
		stop()
	})
	core.OnChat(func(p channel.ChatPayload) {
		pterm.Info.Printf("[%s] %s\n", p.From, p.Body)
	})
	core.OnAlert(func(active bool) {
		if active {
			pterm.Warning.Println("ALERT raised by counterpart")
		} else {
			pterm.Info.Println("alert cleared")
		}
	})
	core.OnStreamRequested(func() {
		pterm.Info.Println("counterpart requested our stream")
	})
	core.OnCallState(func(st call.State) {
		pterm.Info.Printf("call: %s\n", st)
		if st == call.StateIncoming {
			pterm.Info.Println("incoming call; type 'accept' or 'end'")
		}
	})
	core.OnMediaError(func(err error) {
		pterm.Error.Printf("media unavailable: %v\n", err)
	})

	core.Start(ctx)
	defer core.Stop()
	util.StartStatsReporter(ctx)

	pterm.Info.Printf("%s endpoint %q ready; type 'help' for commands\n", cfg.Role, core.Identity().PeerID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := handleCommand(core, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleCommand(core *app.Core, line string) (quit bool) {
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")

	switch cmd {
	case "help":
		printHelp()
	case "chat":
		if rest == "" {
			pterm.Warning.Println("usage: chat <message>")
			return false
		}
		if p, err := core.SendChat(rest); err == nil {
			pterm.Info.Printf("[%s] %s\n", p.From, p.Body)
		}
	case "alert":
		core.SendAlert()
	case "request":
		core.RequestStream()
	case "call":
		if err := core.StartCall(); err != nil {
			pterm.Warning.Printf("%v\n", err)
		}
	case "accept":
		if err := core.AcceptCall(); err != nil {
			pterm.Warning.Printf("%v\n", err)
		}
	case "end":
		core.EndCall()
	case "share":
		if err := core.StartScreenShare(); err != nil {
			pterm.Warning.Printf("%v\n", err)
		}
	case "unshare":
		core.StopScreenShare()
	case "text":
		handleTextCommand(core, rest)
	case "clear":
		core.ClearAnnotations()
	case "status":
		pterm.Info.Printf("session=%s channel-open=%t call=%s sharing=%t\n",
			core.Status(), core.ChannelOpen(), core.CallState(), core.ScreenShareActive())
	case "quit", "exit":
		return true
	default:
		// Anything unrecognized is treated as chat, the most common input.
		if p, err := core.SendChat(line); err == nil {
			pterm.Info.Printf("[%s] %s\n", p.From, p.Body)
		}
	}
	return false
}

// handleTextCommand places a text annotation: text <x> <y> <message>.
func handleTextCommand(core *app.Core, rest string) {
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 3 {
		pterm.Warning.Println("usage: text <x> <y> <message>")
		return
	}
	x, errX := strconv.Atoi(fields[0])
	y, errY := strconv.Atoi(fields[1])
	if errX != nil || errY != nil {
		pterm.Warning.Println("usage: text <x> <y> <message>")
		return
	}
	core.PlaceText(color.RGBA{R: 0xff, A: 0xff}, x, y, fields[2])
}

func printHelp() {
	fmt.Println(`commands:
  chat <message>      send a chat message (bare text works too)
  alert               raise the attention signal on the counterpart
  request             ask the counterpart to start streaming
  call                place a call
  accept              accept the ringing call
  end                 cancel, decline, or hang up
  share / unshare     start or stop the annotated screen share
  text <x> <y> <msg>  place a text annotation on the shared screen
  clear               clear all annotations
  status              show session, channel, and call state
  quit                exit`)
}
