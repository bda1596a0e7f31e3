// Package console is the operator's line REPL.  It drives the engine
// in-process and answers bind confirmations interactively.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/peterh/liner"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Gate is what the console drives.
type Gate interface {
	Unlock(ctx context.Context, op service.Operator) types.UnlockResult
	Enroll(ctx context.Context, req types.EnrollRequest) types.EnrollResult
	Remove(ctx context.Context, ref string) types.RemoveResult
	ListIdentities(ctx context.Context, filter string) ([]types.IdentitySummary, error)
	Identity(ctx context.Context, ref string) (types.IdentitySummary, error)
	Audit(ctx context.Context, limit int) ([]types.AuditEntry, error)
	Status(ctx context.Context) (types.Status, error)
	CancelWait() bool
}

// LineReader is the prompt source.  *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type Console struct {
	gate    Gate
	in      LineReader
	out     io.Writer
	running atomic.Bool
}

func New(gate Gate, in LineReader, out io.Writer) *Console {
	return &Console{gate: gate, in: in, out: out}
}

// Interrupt cancels a pending card wait.  It reports whether a workflow was
// running; the caller wires it to SIGINT.
func (c *Console) Interrupt() bool {
	if !c.running.Load() {
		return false
	}
	if c.gate.CancelWait() {
		fmt.Fprintln(c.out, warnStyle.Render("[card wait cancelled]"))
	}
	return true
}

// ConfirmBind asks the operator whether to bind uid to ident.  Aborting
// the prompt declines.
func (c *Console) ConfirmBind(ctx context.Context, ident types.Identity, uid string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.confirm(fmt.Sprintf("Bind card %s to %s? [y/N] ", uid, ident.DisplayName))
}

// confirm asks a y/N question.  Only y or yes accepts; an aborted prompt
// declines.
func (c *Console) confirm(q string) (bool, error) {
	answer, err := c.in.Prompt(q)
	if errors.Is(err, liner.ErrPromptAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, titleStyle.Render("Portunus gate console")+dimStyle.Render("  (help for commands)"))
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.in.Prompt(promptStyle.Render("gate> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.in.AppendHistory(line)
		if !c.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the REPL continues.
func (c *Console) Execute(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		return false
	case "help", "?":
		c.help()
	case "unlock", "u":
		c.workflow(func() { c.printUnlock(c.gate.Unlock(ctx, c)) })
	case "enroll", "e":
		c.enroll(ctx, rest)
	case "remove", "rm":
		if rest == "" {
			c.usage("remove <id or name>")
			break
		}
		c.remove(ctx, rest)
	case "list", "ls":
		c.list(ctx, rest)
	case "show":
		c.show(ctx, rest)
	case "audit", "log":
		c.audit(ctx, rest)
	case "status":
		c.status(ctx)
	default:
		fmt.Fprintf(c.out, "%s unknown command %q\n", badStyle.Render("[error]"), cmd)
	}
	return true
}

func (c *Console) workflow(fn func()) {
	c.running.Store(true)
	defer c.running.Store(false)
	fn()
}

func (c *Console) enroll(ctx context.Context, args string) {
	withCard := false
	var label []string
	for _, f := range strings.Fields(args) {
		if f == "--card" || f == "-c" {
			withCard = true
			continue
		}
		label = append(label, f)
	}
	if len(label) == 0 {
		c.usage("enroll [--card] <label>")
		return
	}
	if withCard {
		fmt.Fprintln(c.out, dimStyle.Render("Look at the camera, then present the card (Ctrl+C cancels)."))
	}
	req := types.EnrollRequest{Label: strings.Join(label, " "), WithCard: withCard}
	c.workflow(func() { c.printEnroll(c.gate.Enroll(ctx, req)) })
}

func (c *Console) printUnlock(res types.UnlockResult) {
	c.outcome(string(res.Status), res.Reason)
	if res.IdentityID != "" {
		fmt.Fprintf(c.out, "  identity: %s (%s)\n", res.DisplayName, res.IdentityID)
	}
	if res.Presence != "" {
		fmt.Fprintf(c.out, "  presence: %s\n", res.Presence)
	}
}

func (c *Console) printEnroll(res types.EnrollResult) {
	c.outcome(string(res.Status), res.Reason)
	if res.IdentityID != "" {
		fmt.Fprintf(c.out, "  identity: %s (%s)\n", res.DisplayName, res.IdentityID)
	}
}

func (c *Console) remove(ctx context.Context, ref string) {
	ok, err := c.confirm(fmt.Sprintf("Remove identity %s and its card, presence and photo? [y/N] ", ref))
	if err != nil {
		c.fail(err)
		return
	}
	if !ok {
		fmt.Fprintln(c.out, dimStyle.Render("remove cancelled"))
		return
	}
	c.workflow(func() { c.printRemove(c.gate.Remove(ctx, ref)) })
}

func (c *Console) printRemove(res types.RemoveResult) {
	c.outcome(string(res.Status), res.Reason)
	if res.Status == types.RemoveRemoved {
		fmt.Fprintf(c.out, "  identity: %s  binding removed: %t  presence removed: %t  photo removed: %t\n",
			res.IdentityID, res.BindingRemoved, res.PresenceRemoved, res.PhotoRemoved)
	}
}

func (c *Console) outcome(status, reason string) {
	msg := outcomeStyle(status).Render(strings.ToUpper(status))
	if reason != "" {
		msg += " " + dimStyle.Render(reason)
	}
	fmt.Fprintln(c.out, msg)
}

func (c *Console) list(ctx context.Context, filter string) {
	list, err := c.gate.ListIdentities(ctx, filter)
	if err != nil {
		c.fail(err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, dimStyle.Render("no identities"))
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("ID")+"\t"+headerStyle.Render("NAME")+"\t"+
		headerStyle.Render("CARD")+"\t"+headerStyle.Render("PRESENCE")+"\t"+headerStyle.Render("LAST ACCESS"))
	for _, s := range list {
		card := "-"
		if s.HasBinding {
			card = s.CardUIDSuffix
		}
		last := "-"
		if s.LastAccess != nil {
			last = s.LastAccess.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.DisplayName, card, s.Presence, last)
	}
	tw.Flush()
}

func (c *Console) show(ctx context.Context, ref string) {
	if ref == "" {
		c.usage("show <id or name>")
		return
	}
	s, err := c.gate.Identity(ctx, ref)
	if err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintf(c.out, "%s (%s)\n", titleStyle.Render(s.DisplayName), s.ID)
	fmt.Fprintf(c.out, "  enrolled: %s\n", s.EnrolledAt.Local().Format("2006-01-02 15:04:05"))
	if s.HasBinding {
		fmt.Fprintf(c.out, "  card:     %s\n", s.CardUIDSuffix)
	} else {
		fmt.Fprintln(c.out, "  card:     none")
	}
	fmt.Fprintf(c.out, "  presence: %s\n", s.Presence)
	fmt.Fprintf(c.out, "  photo:    %t\n", s.HasPhoto)
	if s.LastAccess != nil {
		fmt.Fprintf(c.out, "  last:     %s\n", s.LastAccess.Local().Format("2006-01-02 15:04:05"))
	}
}

func (c *Console) audit(ctx context.Context, arg string) {
	limit := 20
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			c.usage("audit [count]")
			return
		}
		limit = n
	}
	entries, err := c.gate.Audit(ctx, limit)
	if err != nil {
		c.fail(err)
		return
	}
	for _, e := range entries {
		who := e.IdentityID
		if who == "" {
			who = "-"
		}
		fmt.Fprintf(c.out, "%s  %-16s %-12s %s\n",
			dimStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")), e.Kind, who, e.Detail)
	}
}

func (c *Console) status(ctx context.Context) {
	st, err := c.gate.Status(ctx)
	if err != nil {
		c.fail(err)
		return
	}
	reader := badStyle.Render("absent")
	if st.ReaderPresent {
		reader = goodStyle.Render("present")
	}
	fmt.Fprintf(c.out, "reader: %s  identities: %d  bindings: %d  inside: %d\n",
		reader, st.Identities, st.Bindings, st.Inside)
	fmt.Fprintf(c.out, "match: %s (tolerance %.2f)\n", st.MatchPolicy, st.MatchTolerance)
	if st.Workflow != "" {
		fmt.Fprintf(c.out, "running: %s\n", st.Workflow)
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, `commands:
  unlock                  face + card unlock (asks before binding a new card)
  enroll [--card] <label> enroll the face in front of the camera
  remove <ref>            remove an identity with its card and presence
  list [filter]           list identities
  show <ref>              show one identity
  audit [count]           newest audit entries
  status                  reader and store summary
  quit`)
}

func (c *Console) usage(u string) {
	fmt.Fprintf(c.out, "%s %s\n", warnStyle.Render("usage:"), u)
}

func (c *Console) fail(err error) {
	fmt.Fprintf(c.out, "%s %v\n", badStyle.Render("[error]"), err)
}
