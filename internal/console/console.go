package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/KungFuJesus/ntetris/internal/player"
)

// DefaultKickReason is sent when the operator gives no reason
const DefaultKickReason = "kicked by operator"

// Operator is the server surface the console drives
type Operator interface {
	Players() []player.Player
	KickByName(name, reason string) (player.Player, error)
	KickByID(id uint32, reason string) (player.Player, error)
}

// Console reads operator commands line by line and runs them
type Console struct {
	op     Operator
	in     io.Reader
	out    io.Writer
	prompt string
	logger *slog.Logger
}

// New creates a console reading from in and writing to out
func New(op Operator, in io.Reader, out io.Writer, prompt string, logger *slog.Logger) *Console {
	return &Console{
		op:     op,
		in:     in,
		out:    out,
		prompt: prompt,
		logger: logger,
	}
}

// Run executes commands until the input ends or ctx is done. Command
// errors are printed and do not stop the console.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, c.prompt)

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("failed to read console input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := c.Execute(line); err != nil {
				fmt.Fprintf(c.out, "Error: %s\n", err)
			}
		}
	}
}

// Execute runs a single command line. Blank lines are ignored. Double
// quotes group words, so `kick "big bob"` and `kick ""` address names
// with spaces and the empty name.
func (c *Console) Execute(line string) error {
	args, err := splitLine(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	root := c.rootCmd()
	root.SetArgs(args)

	c.logger.Debug("Console command", slog.String("command", args[0]))

	return root.Execute()
}

func (c *Console) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ntetris",
		Short:         "Operator console for the ntetris server",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.AddCommand(
		c.listCmd(),
		c.countCmd(),
		c.kickCmd(),
		c.kickIDCmd(),
	)

	return root
}

func (c *Console) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			players := c.op.Players()
			if len(players) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No players registered")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tSTATE\tBUDGET")
			for _, p := range players {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Addr, p.State, p.Budget)
			}
			return tw.Flush()
		},
	}
}

func (c *Console) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of registered players",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%d players\n", len(c.op.Players()))
		},
	}
}

func (c *Console) kickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kick <name> [reason...]",
		Short: "Kick a player by name",
		Long: `Kick a player by name. Quote names that contain spaces or are empty.
Arguments are never parsed as flags, so names starting with '-' work as typed.`,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.op.KickByName(args[0], kickReason(args[1:]))
			if err != nil {
				return notFound(err, fmt.Sprintf("no player named %q", args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kicked %s (%d)\n", p.Name, p.ID)
			return nil
		},
	}
}

func (c *Console) kickIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "kickid <id> [reason...]",
		Short:              "Kick a player by id",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid player id %q", args[0])
			}

			p, err := c.op.KickByID(uint32(id), kickReason(args[1:]))
			if err != nil {
				return notFound(err, fmt.Sprintf("no player with id %d", id))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kicked %s (%d)\n", p.Name, p.ID)
			return nil
		},
	}
}

// splitLine breaks a line into words on whitespace. A double-quoted
// section is one word and may be empty; \" and \\ escape inside quotes.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		word    strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && unicode.IsSpace(r):
			if inWord {
				words = append(words, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	if quoted || escaped {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		words = append(words, word.String())
	}
	return words, nil
}

func kickReason(words []string) string {
	if len(words) == 0 {
		return DefaultKickReason
	}
	return strings.Join(words, " ")
}

func notFound(err error, msg string) error {
	if errors.Is(err, player.ErrNotFound) {
		return errors.New(msg)
	}
	return err
}
