package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KungFuJesus/ntetris/internal/player"
)

type kickCall struct {
	name   string
	id     uint32
	reason string
}

type fakeOperator struct {
	mu      sync.Mutex
	players []player.Player
	kicks   []kickCall
}

func (f *fakeOperator) Players() []player.Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]player.Player(nil), f.players...)
}

func (f *fakeOperator) KickByName(name, reason string) (player.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.players {
		if p.Name == name {
			f.players = append(f.players[:i], f.players[i+1:]...)
			f.kicks = append(f.kicks, kickCall{name: name, reason: reason})
			return p, nil
		}
	}
	return player.Player{}, fmt.Errorf("%w: %q", player.ErrNotFound, name)
}

func (f *fakeOperator) KickByID(id uint32, reason string) (player.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.players {
		if p.ID == id {
			f.players = append(f.players[:i], f.players[i+1:]...)
			f.kicks = append(f.kicks, kickCall{id: id, reason: reason})
			return p, nil
		}
	}
	return player.Player{}, fmt.Errorf("%w: %d", player.ErrNotFound, id)
}

func newFakeOperator() *fakeOperator {
	addr := netip.MustParseAddrPort("127.0.0.1:4000")
	return &fakeOperator{
		players: []player.Player{
			{ID: 11, Name: "alice", Addr: addr, Budget: 30, State: player.BrowsingRooms},
			{ID: 22, Name: "bob", Addr: addr, Budget: 15},
		},
	}
}

func newTestConsole(op Operator, in io.Reader) (*Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(op, in, out, "> ", logger), out
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		expectErr  string
		expectOut  []string
		expectKick *kickCall
	}{
		{
			name:      "list",
			line:      "list",
			expectOut: []string{"alice", "bob", "BROWSING_ROOMS", "127.0.0.1:4000"},
		},
		{
			name:      "count",
			line:      "count",
			expectOut: []string{"2 players"},
		},
		{
			name:       "kick with default reason",
			line:       "kick bob",
			expectOut:  []string{"Kicked bob (22)"},
			expectKick: &kickCall{name: "bob", reason: DefaultKickReason},
		},
		{
			name:       "kick with reason",
			line:       "kick alice  too   slow",
			expectKick: &kickCall{name: "alice", reason: "too slow"},
		},
		{
			name:       "kick by id",
			line:       "kickid 11 idle",
			expectOut:  []string{"Kicked alice (11)"},
			expectKick: &kickCall{id: 11, reason: "idle"},
		},
		{
			name:      "kick unknown name",
			line:      "kick zed",
			expectErr: `no player named "zed"`,
		},
		{
			name:      "kick unknown id",
			line:      "kickid 99",
			expectErr: "no player with id 99",
		},
		{
			name:      "kick by malformed id",
			line:      "kickid abc",
			expectErr: `invalid player id "abc"`,
		},
		{
			name:      "kick without name",
			line:      "kick",
			expectErr: "requires at least 1 arg",
		},
		{
			name:      "unknown command",
			line:      "explode",
			expectErr: "unknown command",
		},
		{
			name:      "help",
			line:      "help",
			expectOut: []string{"kickid", "count"},
		},
		{
			name: "blank line",
			line: "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := newFakeOperator()
			c, out := newTestConsole(op, strings.NewReader(""))

			err := c.Execute(tt.line)
			if tt.expectErr != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q, got none", tt.expectErr)
				}
				if !strings.Contains(err.Error(), tt.expectErr) {
					t.Errorf("Expected error containing %q, got %q", tt.expectErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}

			for _, want := range tt.expectOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
				}
			}

			if tt.expectKick != nil {
				if len(op.kicks) != 1 {
					t.Fatalf("Expected one kick, got %d", len(op.kicks))
				}
				if op.kicks[0] != *tt.expectKick {
					t.Errorf("Expected kick %+v, got %+v", *tt.expectKick, op.kicks[0])
				}
			}
		})
	}
}

func TestRunContinuesAfterErrors(t *testing.T) {
	op := newFakeOperator()
	in := strings.NewReader("explode\nkick bob\ncount\n")
	c, out := newTestConsole(op, in)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Expected clean exit at end of input, got %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "Error: unknown command") {
		t.Errorf("Expected unknown command error in output, got:\n%s", output)
	}
	if !strings.Contains(output, "1 players") {
		t.Errorf("Expected count after kick, got:\n%s", output)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	c, _ := newTestConsole(newFakeOperator(), reader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Console did not stop after cancellation")
	}
}

func TestKickNamesNeedingQuotes(t *testing.T) {
	tests := []struct {
		name     string
		player   string
		line     string
		expected kickCall
	}{
		{"name with spaces", "big bob", `kick "big bob" afk`, kickCall{name: "big bob", reason: "afk"}},
		{"empty name", "", `kick ""`, kickCall{name: "", reason: DefaultKickReason}},
		{"name starting with a dash", "-x", "kick -x --rude", kickCall{name: "-x", reason: "--rude"}},
		{"quoted reason", "carl", `kick carl "two  spaces"`, kickCall{name: "carl", reason: "two  spaces"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &fakeOperator{players: []player.Player{{ID: 5, Name: tt.player}}}
			c, _ := newTestConsole(op, strings.NewReader(""))

			if err := c.Execute(tt.line); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(op.kicks) != 1 {
				t.Fatalf("Expected one kick, got %d", len(op.kicks))
			}
			if op.kicks[0] != tt.expected {
				t.Errorf("Expected kick %+v, got %+v", tt.expected, op.kicks[0])
			}
		})
	}
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line      string
		expected  []string
		expectErr bool
	}{
		{line: "  list  ", expected: []string{"list"}},
		{line: `kick "a b" c`, expected: []string{"kick", "a b", "c"}},
		{line: `kick ""`, expected: []string{"kick", ""}},
		{line: `kick pre"fix suf"fix`, expected: []string{"kick", "prefix suffix"}},
		{line: `kick "say \"hi\""`, expected: []string{"kick", `say "hi"`}},
		{line: `kick "open`, expectErr: true},
		{line: "", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			words, err := splitLine(tt.line)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %q", tt.line, words)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if strings.Join(words, "|") != strings.Join(tt.expected, "|") || len(words) != len(tt.expected) {
				t.Errorf("Expected %q, got %q", tt.expected, words)
			}
		})
	}
}
