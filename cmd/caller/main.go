// Command caller is a terminal participant of a two-party call. It talks to
// the relay server, sends synthetic or captured media and prints the call
// status as it changes.
//
// Keys on stdin: m toggles the microphone, c the camera, h hangs up.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/peercall/internal/adapters/relay"
	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	fs := pflag.NewFlagSet("caller", pflag.ExitOnError)
	self := fs.String("self", "", "own user id")
	peer := fs.String("peer", "", "user id to call")
	intent := fs.String("intent", string(call.IntentOutgoing), "outgoing or incoming")
	fs.String("relay_url", "http://127.0.0.1:8080", "relay server base url")
	fs.String("log_level", "warn", "log level")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		pterm.Error.Printfln("config: %v", err)
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(cfg.Level())

	selfID, err := domain.ParseUserID(*self)
	if err != nil {
		pterm.Error.Printfln("--self: %v", err)
		os.Exit(1)
	}
	peerID, err := domain.ParseUserID(*peer)
	if err != nil {
		pterm.Error.Printfln("--peer: %v", err)
		os.Exit(1)
	}
	in := call.Intent(strings.ToLower(*intent))
	if in != call.IntentOutgoing && in != call.IntentIncoming {
		pterm.Error.Printfln("--intent must be outgoing or incoming")
		os.Exit(1)
	}

	session, err := newSession(cfg, selfID, peerID)
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	defer session.Close()

	pterm.Info.Printfln("%s -> %s (%s, %s)", selfID, peerID, session.Role(), session.CallID())

	ui := newView(ctx, session, in)
	session.OnUpdate(ui.render)
	session.Open(in)

	go readKeys(ctx, session)

	select {
	case <-ctx.Done():
		// Close waits for the scope to be cleared
		session.HangUp()
	case <-ui.done:
	}
	ui.printStats()
}

func newSession(cfg *config.Config, self, peer domain.UserID) (*call.Session, error) {
	ws, err := relay.NewWS(cfg.RelayURL, self.String())
	if err != nil {
		return nil, err
	}
	peers, err := rtc.NewFactory(rtc.Options{
		STUNServers:            cfg.Call.STUNServers,
		CandidateBuffer:        cfg.Call.CandidateBuffer,
		ICEDisconnectedTimeout: cfg.Call.ICEDisconnectedTimeout,
		ICEFailedTimeout:       cfg.Call.ICEFailedTimeout,
		ICEKeepalive:           cfg.Call.ICEKeepalive,
	})
	if err != nil {
		return nil, err
	}
	devices, err := newDevices()
	if err != nil {
		return nil, err
	}
	return call.NewSession(call.Deps{Devices: devices, Relay: ws, Peers: peers}, call.Options{
		Self:              self,
		Peer:              peer,
		PermissionTimeout: cfg.Call.PermissionTimeout,
		DeniedCloseDelay:  cfg.Call.DeniedCloseDelay,
		RingTimeout:       cfg.Call.RingTimeout,
		ConnectTimeout:    cfg.Call.ConnectTimeout,
	})
}

func readKeys(ctx context.Context, s *call.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "m":
			if s.ToggleMic() {
				pterm.Warning.Println("microphone muted")
			} else {
				pterm.Info.Println("microphone on")
			}
		case "c":
			if s.ToggleCamera() {
				pterm.Warning.Println("camera off")
			} else {
				pterm.Info.Println("camera on")
			}
		case "h":
			s.HangUp()
		}
	}
}
