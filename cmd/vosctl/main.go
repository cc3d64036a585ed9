// Command vosctl is a small operator CLI around a single vos pool: create
// or open it, stand up a container, and push object operations through the
// same Update/Fetch/Punch paths an in-process caller would use.
// It exists for local exercising and selftest of the engine, not as a
// networked server — there's no daemon mode here, every invocation opens
// the pool, does one thing, and closes it.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gholt/vos"
)

var (
	poolDir  string
	poolUUID string
	verbose  bool
)

func main() {
	root := &cobra.Command{
		Use:   "vosctl",
		Short: "inspect and exercise a vos pool",
	}
	root.PersistentFlags().StringVar(&poolDir, "dir", ".", "pool directory")
	root.PersistentFlags().StringVar(&poolUUID, "pool", "", "pool UUID (required for container/object subcommands)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable structured logging to stderr")

	root.AddCommand(newPoolCmd(), newContainerCmd(), newObjectCmd(), newSelftestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func openPool() (*vos.Pool, uuid.UUID, error) {
	if poolUUID == "" {
		return nil, uuid.UUID{}, fmt.Errorf("--pool is required")
	}
	id, err := uuid.Parse(poolUUID)
	if err != nil {
		return nil, uuid.UUID{}, fmt.Errorf("--pool: %w", err)
	}
	p, err := vos.OpenPool(poolDir, id, vos.OptLogger(logger()))
	if err != nil {
		return nil, uuid.UUID{}, err
	}
	return p, id, nil
}

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pool", Short: "pool lifecycle"}

	var scmBytes int64
	create := &cobra.Command{
		Use:   "create",
		Short: "create a new pool in --dir",
		RunE: func(*cobra.Command, []string) error {
			id := uuid.New()
			p, err := vos.CreatePool(poolDir, id, vos.OptScmSizeBytes(scmBytes), vos.OptLogger(logger()))
			if err != nil {
				return err
			}
			defer p.Close()
			fmt.Println(id.String())
			return nil
		},
	}
	create.Flags().Int64Var(&scmBytes, "scm-bytes", 1<<30, "PM arena size in bytes")
	cmd.AddCommand(create)

	stat := &cobra.Command{
		Use:   "stat",
		Short: "print pool metrics",
		RunE: func(*cobra.Command, []string) error {
			p, id, err := openPool()
			if err != nil {
				return err
			}
			defer p.Close()
			m := p.Metrics()
			fmt.Printf("pool %s\n", id)
			fmt.Printf("  updates: %s\n", counterValue(m.Updates))
			fmt.Printf("  fetches: %s\n", counterValue(m.Fetches))
			fmt.Printf("  punches: %s\n", counterValue(m.Punches))
			fmt.Printf("  queries: %s\n", counterValue(m.Queries))
			fmt.Printf("  handle cache hits: %s\n", counterValue(m.HandleCacheHit))
			fmt.Printf("  handle cache misses: %s\n", counterValue(m.HandleCacheMis))
			fmt.Printf("  bio bytes read: %s\n", counterValue(m.BIOBytesRead))
			fmt.Printf("  bio bytes written: %s\n", counterValue(m.BIOBytesWrite))
			return nil
		},
	}
	cmd.AddCommand(stat)
	return cmd
}

func newContainerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "container", Short: "container lifecycle"}

	create := &cobra.Command{
		Use:   "create",
		Short: "create a container under --pool",
		RunE: func(*cobra.Command, []string) error {
			p, _, err := openPool()
			if err != nil {
				return err
			}
			defer p.Close()
			id := uuid.New()
			cont, err := p.CreateContainer(id)
			if err != nil {
				return err
			}
			defer cont.Close()
			fmt.Println(id.String())
			return nil
		},
	}
	cmd.AddCommand(create)
	return cmd
}

func newObjectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "object", Short: "object data-path operations"}

	var contUUID, dkey, akey, value string
	var epoch uint64

	put := &cobra.Command{
		Use:   "put [object-id-hex]",
		Short: "update a single-value akey",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			oid, err := parseObjectID(args[0])
			if err != nil {
				return err
			}
			cont, closeFn, err := openContainer(contUUID)
			if err != nil {
				return err
			}
			defer closeFn()
			return cont.Update(oid, epoch, vos.IODSpec{
				Dkey: []byte(dkey),
				Units: []vos.IOUnit{
					{Akey: []byte(akey), Type: vos.IODSingle, RecSize: 1, Payload: []byte(value)},
				},
			})
		},
	}
	put.Flags().StringVar(&contUUID, "container", "", "container UUID")
	put.Flags().StringVar(&dkey, "dkey", "", "distribution key")
	put.Flags().StringVar(&akey, "akey", "", "attribute key")
	put.Flags().StringVar(&value, "value", "", "value to store")
	put.Flags().Uint64Var(&epoch, "epoch", 1, "write epoch")
	cmd.AddCommand(put)

	get := &cobra.Command{
		Use:   "get [object-id-hex]",
		Short: "fetch a single-value akey",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			oid, err := parseObjectID(args[0])
			if err != nil {
				return err
			}
			cont, closeFn, err := openContainer(contUUID)
			if err != nil {
				return err
			}
			defer closeFn()
			spec := vos.IODSpec{
				Dkey:  []byte(dkey),
				Units: []vos.IOUnit{{Akey: []byte(akey), Type: vos.IODSingle, RecSize: 1}},
			}
			if err := cont.Fetch(oid, epoch, spec); err != nil {
				return err
			}
			fmt.Println(string(spec.Units[0].Payload))
			return nil
		},
	}
	get.Flags().StringVar(&contUUID, "container", "", "container UUID")
	get.Flags().StringVar(&dkey, "dkey", "", "distribution key")
	get.Flags().StringVar(&akey, "akey", "", "attribute key")
	get.Flags().Uint64Var(&epoch, "epoch", vos.EpochMax, "read epoch")
	cmd.AddCommand(get)

	var punchAkey bool
	punch := &cobra.Command{
		Use:   "punch [object-id-hex]",
		Short: "punch an object, dkey, or akey",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			oid, err := parseObjectID(args[0])
			if err != nil {
				return err
			}
			cont, closeFn, err := openContainer(contUUID)
			if err != nil {
				return err
			}
			defer closeFn()
			var akeyArg []byte
			if punchAkey {
				akeyArg = []byte(akey)
			}
			var dkeyArg []byte
			if dkey != "" {
				dkeyArg = []byte(dkey)
			}
			return cont.Punch(oid, epoch, dkeyArg, akeyArg)
		},
	}
	punch.Flags().StringVar(&contUUID, "container", "", "container UUID")
	punch.Flags().StringVar(&dkey, "dkey", "", "distribution key (omit to punch the whole object)")
	punch.Flags().StringVar(&akey, "akey", "", "attribute key (requires --dkey)")
	punch.Flags().Uint64Var(&epoch, "epoch", 1, "punch epoch")
	punch.PreRunE = func(*cobra.Command, []string) error {
		punchAkey = akey != ""
		return nil
	}
	cmd.AddCommand(punch)

	return cmd
}

func openContainer(contUUID string) (*vos.Container, func(), error) {
	p, _, err := openPool()
	if err != nil {
		return nil, nil, err
	}
	if contUUID == "" {
		p.Close()
		return nil, nil, fmt.Errorf("--container is required")
	}
	id, err := uuid.Parse(contUUID)
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("--container: %w", err)
	}
	cont, err := p.OpenContainer(id)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return cont, func() { cont.Close(); p.Close() }, nil
}

func parseObjectID(s string) (vos.ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return vos.ObjectID{}, fmt.Errorf("object id must be 32 hex chars: %w", err)
	}
	return vos.ObjectIDFromBytes(b)
}

// counterValue reads back a prometheus.Counter's current value; Counter
// itself exposes no public getter, only the collector Write path testutil
// wraps.
func counterValue(c prometheus.Counter) string {
	return fmt.Sprintf("%.0f", testutil.ToFloat64(c))
}

func newSelftestCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "create a throwaway pool/container and run an update/fetch/punch round trip",
		RunE: func(*cobra.Command, []string) error {
			if dir == "" {
				d, err := os.MkdirTemp("", "vosctl-selftest-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(d)
				dir = d
			}
			id := uuid.New()
			p, err := vos.CreatePool(dir, id, vos.OptScmSizeBytes(8<<20))
			if err != nil {
				return err
			}
			defer p.Close()
			cid := uuid.New()
			cont, err := p.CreateContainer(cid)
			if err != nil {
				return err
			}
			defer cont.Close()

			oid := vos.ObjectID{Lo: 1}
			if err := cont.Update(oid, 1, vos.IODSpec{
				Dkey: []byte("dkey"),
				Units: []vos.IOUnit{
					{Akey: []byte("akey"), Type: vos.IODSingle, RecSize: 1, Payload: []byte("hello")},
				},
			}); err != nil {
				return fmt.Errorf("update: %w", err)
			}

			spec := vos.IODSpec{
				Dkey:  []byte("dkey"),
				Units: []vos.IOUnit{{Akey: []byte("akey"), Type: vos.IODSingle, RecSize: 1}},
			}
			if err := cont.Fetch(oid, 1, spec); err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			if string(spec.Units[0].Payload) != "hello" {
				return fmt.Errorf("selftest: got %q, want %q", spec.Units[0].Payload, "hello")
			}

			if err := cont.Punch(oid, 2, []byte("dkey"), []byte("akey")); err != nil {
				return fmt.Errorf("punch: %w", err)
			}
			spec.Units[0].Payload = nil
			if err := cont.Fetch(oid, 2, spec); err != nil {
				return fmt.Errorf("fetch after punch: %w", err)
			}
			if spec.Units[0].Payload != nil {
				return fmt.Errorf("selftest: akey still visible after punch")
			}

			fmt.Println("selftest OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory for the throwaway pool (default: a temp dir)")
	return cmd
}
