package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/daviddao/crdtstore/pkg/store"
)

func (a *app) cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	settle := fs.Duration("settle", a.cfg.SettleTimeout, "timeout for each settle line")
	metrics := fs.Bool("metrics", false, "print metrics after the script")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *settle <= 0 {
		fmt.Fprintln(os.Stderr, "crdtsim: run: --settle must be positive")
		return 1
	}

	var in io.Reader = os.Stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "crdtsim: run: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	reg := prometheus.NewRegistry()
	m := store.NewMetrics()
	if err := m.Register(reg); err != nil {
		fmt.Fprintf(os.Stderr, "crdtsim: run: %v\n", err)
		return 1
	}
	opts := []store.Option{store.WithLogger(a.log), store.WithMetrics(m)}
	if a.journal != nil {
		opts = append(opts, store.WithJournal(a.journal))
	}
	cluster := store.NewCluster(opts...)
	defer cluster.Close()

	s := newSim(cluster, *settle, os.Stdout)
	err := s.run(in)
	if err == nil {
		// Journal writes happen on delivery; let them finish before exit.
		err = s.wait()
	}
	if *metrics {
		if werr := writeMetrics(os.Stdout, reg); werr != nil {
			fmt.Fprintf(os.Stderr, "crdtsim: run: metrics: %v\n", werr)
		}
	}
	if err != nil {
		if errors.Is(err, errExpect) {
			fmt.Fprintf(os.Stderr, "crdtsim: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "crdtsim: run: %v\n", err)
		}
		return 1
	}
	return 0
}

// writeMetrics dumps everything in g in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
