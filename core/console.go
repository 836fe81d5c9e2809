package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

var ErrUnknownCommand = errors.New("unknown command")

const consoleHelp = `commands:
  attach <process ip> <process port> <router id>   request a link without starting it
  connect <process ip> <process port> <router id>  attach and start
  start                                            bring all links to TWO_WAY and flood the database
  disconnect <slot>                                close the link in slot
  detect <router id>                               shortest path to a router
  neighbors                                        slot table
  database                                         link-state database
  routes                                           forwarding table
  pending                                          attach requests awaiting a decision
  accept <request id> | reject <request id>        answer a specific attach request
  Y | N                                            answer the last announced attach request
  quit                                             leave the network and exit`

// Console is the operator front end of one router.
type Console struct {
	e       *Engine
	out     io.Writer
	current *AttachRequest
}

func NewConsole(e *Engine, out io.Writer) *Console {
	return &Console{e: e, out: out}
}

// Run executes commands read from in until quit, end of input, or ctx is done.
// Inbound attach requests are announced as they arrive.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.e.Done():
			return nil
		case req := <-c.e.PendingAttach():
			c.current = req
			fmt.Fprintf(c.out, "\nreceived attach request %s from %s\ndo you accept this request? (Y/N)\n", req.Id, req)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.Exec(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, ">> ")
}

// Exec runs a single command line. It returns true when the console should exit.
func (c *Console) Exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "y", "yes", "n", "no":
		if c.current == nil {
			return false, errors.New("no attach request to answer")
		}
		if cmd[0] == 'y' {
			c.current.Accept()
		} else {
			c.current.Reject()
		}
		c.current = nil
	case "accept", "reject":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <request id>", cmd)
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return false, err
		}
		err = c.e.Decide(id, cmd == "accept")
		if err != nil {
			return false, err
		}
		if c.current != nil && c.current.Id == id {
			c.current = nil
		}
	case "attach", "connect":
		addr, id, err := parseTarget(args)
		if err != nil {
			return false, err
		}
		var slot int
		if cmd == "attach" {
			slot, err = c.e.Attach(ctx, addr, id)
		} else {
			slot, err = c.e.Connect(ctx, addr, id)
		}
		if slot >= 0 {
			fmt.Fprintf(c.out, "%s attached on slot %d\n", id, slot)
		}
		if err != nil {
			return false, err
		}
	case "start":
		err := c.e.Start(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "all links are TWO_WAY")
	case "disconnect":
		if len(args) != 1 {
			return false, errors.New("usage: disconnect <slot>")
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid slot %q", args[0])
		}
		err = c.e.Disconnect(slot, false)
		if err != nil {
			return false, err
		}
	case "detect":
		if len(args) != 1 {
			return false, errors.New("usage: detect <router id>")
		}
		dest, err := netip.ParseAddr(args[0])
		if err != nil {
			return false, err
		}
		path, err := c.e.ShortestPathTo(dest)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, path.String())
	case "neighbors":
		c.writeNeighbors()
	case "database":
		for _, lsa := range c.e.Database() {
			fmt.Fprintln(c.out, lsa.String())
		}
	case "routes":
		c.writeRoutes()
	case "pending":
		c.writePending()
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return false, nil
}

func parseTarget(args []string) (netip.AddrPort, netip.Addr, error) {
	if len(args) != 3 {
		return netip.AddrPort{}, netip.Addr{}, errors.New("expected <process ip> <process port> <router id>")
	}
	ip, err := netip.ParseAddr(args[0])
	if err != nil {
		return netip.AddrPort{}, netip.Addr{}, err
	}
	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return netip.AddrPort{}, netip.Addr{}, fmt.Errorf("invalid port %q", args[1])
	}
	id, err := netip.ParseAddr(args[2])
	if err != nil {
		return netip.AddrPort{}, netip.Addr{}, err
	}
	return netip.AddrPortFrom(ip, uint16(port)), id, nil
}

func (c *Console) newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(c.out)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

func (c *Console) writeNeighbors() {
	table := c.newTable("SLOT", "ROUTER", "PROCESS", "STATE", "LINK")
	for _, n := range c.e.Neighbors() {
		if n.Free {
			table.Append([]string{strconv.Itoa(n.Slot), "-", "-", "-", "-"})
			continue
		}
		table.Append([]string{
			strconv.Itoa(n.Slot),
			n.Peer.Addr.String(),
			n.Peer.ProcessAddr.String(),
			n.State.String(),
			n.Session.String(),
		})
	}
	table.Render()
}

func (c *Console) writeRoutes() {
	table := c.newTable("DESTINATION", "NEXT HOP", "SLOT")
	for _, r := range c.e.Routes().Entries() {
		slot := "-"
		if r.Slot != -1 {
			slot = strconv.Itoa(r.Slot)
		}
		table.Append([]string{r.Dest.String(), r.NextHop.String(), slot})
	}
	table.Render()
}

func (c *Console) writePending() {
	table := c.newTable("REQUEST", "ROUTER", "PROCESS", "WAITING")
	for _, req := range c.e.Pending() {
		table.Append([]string{
			req.Id.String(),
			req.Peer.Addr.String(),
			req.Peer.ProcessAddr.String(),
			time.Since(req.Received).Round(time.Second).String(),
		})
	}
	table.Render()
}
