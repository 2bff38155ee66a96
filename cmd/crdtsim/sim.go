package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/crdtstore/pkg/crdt"
	"github.com/daviddao/crdtstore/pkg/store"
)

var errExpect = errors.New("expectation failed")

// sim interprets a scenario script against a cluster of stores. Every CRDT it
// creates holds strings.
type sim struct {
	cluster *store.Cluster
	settle  time.Duration
	out     io.Writer
}

func newSim(cluster *store.Cluster, settle time.Duration, out io.Writer) *sim {
	return &sim{cluster: cluster, settle: settle, out: out}
}

// run executes r line by line and stops at the first failing line.
func (s *sim) run(r io.Reader) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.exec(strings.Fields(line)); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}

func (s *sim) exec(f []string) error {
	switch f[0] {
	case "node":
		return s.node(f[1:])
	case "connect", "disconnect":
		if len(f) != 3 {
			return fmt.Errorf("usage: %s <a> <b>", f[0])
		}
		a, err := s.store(f[1])
		if err != nil {
			return err
		}
		b, err := s.store(f[2])
		if err != nil {
			return err
		}
		if f[0] == "connect" {
			a.Connect(b)
		} else {
			a.Disconnect(b)
		}
		return nil
	case "create":
		return s.create(f[1:])
	case "register", "set", "graph", "list":
		return s.mutate(f)
	case "settle":
		return s.wait()
	case "show", "expect":
		if len(f) < 3 {
			return fmt.Errorf("usage: %s <node> <id> ...", f[0])
		}
		got, err := s.render(f[1], f[2])
		if err != nil {
			return err
		}
		if f[0] == "show" {
			fmt.Fprintf(s.out, "%s %s %s\n", f[1], f[2], got)
			return nil
		}
		if want := strings.Join(f[3:], " "); got != want {
			return fmt.Errorf("%w: %s %s is %q, want %q", errExpect, f[1], f[2], got, want)
		}
		return nil
	case "frontier":
		if len(f) != 2 {
			return errors.New("usage: frontier <id>")
		}
		return s.frontier(f[1])
	}
	return fmt.Errorf("unknown command %q", f[0])
}

func (s *sim) node(ids []string) error {
	if len(ids) == 0 {
		ids = []string{uuid.NewString()[:8]}
		fmt.Fprintf(s.out, "node %s\n", ids[0])
	}
	for _, id := range ids {
		if _, err := s.cluster.NewStore(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *sim) store(id string) (*store.Store, error) {
	st, ok := s.cluster.Store(id)
	if !ok {
		return nil, fmt.Errorf("no node %q", id)
	}
	return st, nil
}

// create makes a CRDT on a node. An id of "-" picks a random one, which is
// printed.
func (s *sim) create(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: create <node> <type> <id|->")
	}
	st, err := s.store(args[0])
	if err != nil {
		return err
	}
	id := args[2]
	if id == "-" {
		id = ""
	}
	var r crdt.Replica
	switch args[1] {
	case "register":
		r, err = store.CreateRegister[string](st, id)
	case "set":
		r, err = store.CreateElementSet[string](st, id)
	case "graph":
		r, err = store.CreateGraph[string](st, id)
	case "list":
		r, err = store.CreateRGA[string](st, id)
	default:
		return fmt.Errorf("unknown type %q", args[1])
	}
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintf(s.out, "create %s %s\n", args[1], r.ID())
	}
	return nil
}

func (s *sim) mutate(f []string) error {
	if len(f) < 5 {
		return fmt.Errorf("usage: %s <node> <id> <op> <args...>", f[0])
	}
	st, err := s.store(f[1])
	if err != nil {
		return err
	}
	id, op, args := f[2], f[3], f[4:]
	missing := fmt.Errorf("no %s %q on node %s", f[0], id, f[1])

	switch f[0] {
	case "register":
		r, ok := store.FindRegister[string](st, id)
		if !ok {
			return missing
		}
		if op != "set" || len(args) != 1 {
			return errors.New("usage: register <node> <id> set <value>")
		}
		return r.Set(args[0])

	case "set":
		es, ok := store.FindElementSet[string](st, id)
		if !ok {
			return missing
		}
		if len(args) != 1 {
			return errors.New("usage: set <node> <id> add|remove <element>")
		}
		switch op {
		case "add":
			return es.Add(args[0])
		case "remove":
			return es.Remove(args[0])
		}

	case "graph":
		g, ok := store.FindGraph[string](st, id)
		if !ok {
			return missing
		}
		switch {
		case op == "add-vertex" && len(args) == 1:
			return g.AddVertex(args[0])
		case op == "remove-vertex" && len(args) == 1:
			return g.RemoveVertex(args[0])
		case op == "add-edge" && len(args) == 2:
			ok, err := g.AddEdge(args[0], args[1])
			if err == nil && !ok {
				err = fmt.Errorf("edge %s-%s needs both vertices", args[0], args[1])
			}
			return err
		case op == "remove-edge" && len(args) == 2:
			return g.RemoveEdge(args[0], args[1])
		}

	case "list":
		l, ok := store.FindRGA[string](st, id)
		if !ok {
			return missing
		}
		switch {
		case op == "append" && len(args) == 1:
			return l.Append(args[0])
		case op == "insert" && len(args) == 2:
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad index %q", args[0])
			}
			return l.Insert(i, args[1])
		case op == "remove" && len(args) == 1:
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad index %q", args[0])
			}
			_, err = l.Remove(i)
			return err
		}
	}
	return fmt.Errorf("bad %s operation %q", f[0], strings.Join(f[3:], " "))
}

func (s *sim) wait() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.settle)
	defer cancel()
	if err := s.cluster.Settle(ctx); err != nil {
		return fmt.Errorf("settle: %d deliveries pending after %s: %w", s.cluster.Pending(), s.settle, err)
	}
	return nil
}

// render prints a replica on one line: a register as its value, a set or
// list as its elements in brackets, and a graph as vertex:neighbours pairs.
func (s *sim) render(node, id string) (string, error) {
	st, err := s.store(node)
	if err != nil {
		return "", err
	}
	r, ok := st.FindReplica(id)
	if !ok {
		return "", fmt.Errorf("no crdt %q on node %s", id, node)
	}
	switch r := r.(type) {
	case *crdt.Register[string]:
		return r.Get(), nil
	case *crdt.ElementSet[string]:
		elems := r.Get().ToSlice()
		slices.Sort(elems)
		return "[" + strings.Join(elems, " ") + "]", nil
	case *crdt.RGA[string]:
		return "[" + strings.Join(r.Values(), " ") + "]", nil
	case *crdt.Graph[string]:
		var parts []string
		for _, v := range r.Vertices() {
			var adj []string
			for _, n := range r.FindAdjacentVertices(v.Value) {
				adj = append(adj, n.Value)
			}
			parts = append(parts, v.Value+":"+strings.Join(adj, ","))
		}
		return "[" + strings.Join(parts, " ") + "]", nil
	}
	return "", fmt.Errorf("crdt %q is a %s the script cannot print", id, r.Type())
}

func (s *sim) frontier(id string) error {
	st := s.cluster.Frontier(id)
	var front, behind []string
	for _, p := range st.Frontier {
		front = append(front, p.NodeID)
	}
	for _, p := range st.Behind {
		behind = append(behind, p.NodeID)
	}
	state := "diverged"
	if st.Converged {
		state = "converged"
	}
	fmt.Fprintf(s.out, "frontier %s %s [%s]", id, state, strings.Join(front, " "))
	if len(behind) > 0 {
		fmt.Fprintf(s.out, " behind [%s]", strings.Join(behind, " "))
	}
	fmt.Fprintln(s.out)
	return nil
}
