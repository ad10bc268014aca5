package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dalemusser/devsync/internal/app/system/broadcast"
	"github.com/dalemusser/devsync/internal/syncclient"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch <room>",
	Short: "Stream a room's change and presence events",
	Long: "Stream a room's change and presence events until interrupted.\n" +
		"Output is one JSON object per line when stdout is not a terminal or --json is set.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings()
		if err != nil {
			return err
		}
		c, err := newClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		sub, err := syncclient.Dial(ctx, c.SocketURL(), c.Authorize, newLogger())
		if err != nil {
			return err
		}
		defer sub.Close()

		for _, ch := range []string{broadcast.RoomChannel(args[0]), broadcast.PresenceChannel(args[0])} {
			if err := sub.Subscribe(ctx, ch); err != nil {
				return fmt.Errorf("subscribe %s: %w", ch, err)
			}
		}

		asJSON := watchJSON || !term.IsTerminal(int(os.Stdout.Fd()))
		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-sub.Events():
				if !ok {
					return sub.Err()
				}
				if err := printEvent(out, ev, asJSON, time.Now()); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "always print JSON lines")
	rootCmd.AddCommand(watchCmd)
}

type eventLine struct {
	Time    time.Time       `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func printEvent(w io.Writer, ev syncclient.Event, asJSON bool, at time.Time) error {
	if asJSON {
		return json.NewEncoder(w).Encode(eventLine{Time: at.UTC(), Channel: ev.Channel, Event: ev.Event, Data: ev.Data})
	}
	_, err := fmt.Fprintf(w, "%s  %s\n", at.Format("15:04:05"), describeEvent(ev))
	return err
}

// describeEvent renders one event as a short human-readable line.
func describeEvent(ev syncclient.Event) string {
	switch ev.Event {
	case broadcast.EventFileTreeChanged:
		var p broadcast.FileTreeChanged
		if json.Unmarshal(ev.Data, &p) == nil {
			return fmt.Sprintf("tree changed: %d items%s", len(p.Files), writeSuffix(p.WriteID))
		}
	case broadcast.EventFileContentChanged:
		var p broadcast.FileContentChanged
		if json.Unmarshal(ev.Data, &p) == nil {
			return fmt.Sprintf("content changed: %s (%d bytes)%s", p.FileID, len(p.Content), writeSuffix(p.WriteID))
		}
	case broadcast.EventCanvasChanged:
		var p broadcast.CanvasChanged
		if json.Unmarshal(ev.Data, &p) == nil {
			return fmt.Sprintf("canvas changed: %d elements%s", len(p.Elements), writeSuffix(p.WriteID))
		}
	case broadcast.EventMemberAdded, broadcast.EventMemberRemoved:
		var m broadcast.Member
		if json.Unmarshal(ev.Data, &m) == nil {
			verb := "joined"
			if ev.Event == broadcast.EventMemberRemoved {
				verb = "left"
			}
			return fmt.Sprintf("%s %s", memberName(m), verb)
		}
	case broadcast.EventSubscriptionSucceeded:
		if broadcast.IsPresence(ev.Channel) {
			var snap broadcast.PresenceSnapshot
			if json.Unmarshal(ev.Data, &snap) == nil {
				return fmt.Sprintf("watching as %s, %d present", memberName(snap.Me), snap.Count)
			}
		}
		return "subscribed to " + ev.Channel
	}
	return fmt.Sprintf("%s on %s: %s", ev.Event, ev.Channel, ev.Data)
}

func memberName(m broadcast.Member) string {
	if m.UserInfo.Name != "" {
		return m.UserInfo.Name
	}
	if m.UserInfo.Email != "" {
		return m.UserInfo.Email
	}
	return m.UserID
}

func writeSuffix(id string) string {
	if id == "" {
		return ""
	}
	return " [write " + id + "]"
}
