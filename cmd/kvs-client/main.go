// Command kvs-client is a thin client for kvs-server: one subcommand per
// request type, a Ping handshake on connect, then the single request.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/gtarraga/kvs/internal/engine/kvserr"
	"github.com/gtarraga/kvs/internal/proto"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:           "kvs-client",
		Short:         "Talk to a kvs-server over TCP",
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:4000", "server address")

	root.AddCommand(
		setCmd(&addr),
		getCmd(&addr),
		rmCmd(&addr),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kvs-client:", err)
		os.Exit(1)
	}
}

func setCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a key to a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(*addr, func(w *proto.Writer, r *proto.Reader) error {
				if err := w.WriteSet(args[0], args[1]); err != nil {
					return err
				}
				env, err := r.ReadEnvelope()
				if err != nil {
					return err
				}
				return expectSuccess(env, func(*string) error { return nil })
			})
		},
	}
}

func getCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a key's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(*addr, func(w *proto.Writer, r *proto.Reader) error {
				if err := w.WriteGet(args[0]); err != nil {
					return err
				}
				env, err := r.ReadEnvelope()
				if err != nil {
					return err
				}
				return expectSuccess(env, func(value *string) error {
					if value == nil {
						fmt.Println("Key not found")
						return nil
					}
					fmt.Println(*value)
					return nil
				})
			})
		},
	}
}

func rmCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm KEY",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withConn(*addr, func(w *proto.Writer, r *proto.Reader) error {
				if err := w.WriteRemove(args[0]); err != nil {
					return err
				}
				env, err := r.ReadEnvelope()
				if err != nil {
					return err
				}
				return expectSuccess(env, func(*string) error { return nil })
			})
			if isNotFound(err) {
				fmt.Fprintln(os.Stderr, "Key not found")
				os.Exit(1)
			}
			return err
		},
	}
	cmd.SilenceUsage = true
	return cmd
}

// isNotFound reports whether err is the client-side errWithKind wrapping
// a server NotFound response.
func isNotFound(err error) bool {
	var e *errWithKind
	return errors.As(err, &e) && e.kind == "NotFound"
}

// withConn dials addr, performs a Ping/Pong handshake, then runs fn
// against the connection's framed reader/writer.
func withConn(addr string, fn func(w *proto.Writer, r *proto.Reader) error) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := proto.NewWriter(conn)
	r := proto.NewReader(conn)

	const pingN = 1
	if err := w.WritePing(pingN); err != nil {
		return err
	}
	env, err := r.ReadEnvelope()
	if err != nil {
		return err
	}
	if env.Type != proto.TypePong {
		return kvserr.New(kvserr.ProtocolError, "expected Pong handshake reply")
	}
	pong, err := proto.DecodePong(env)
	if err != nil {
		return err
	}
	if pong.N != pingN {
		return kvserr.New(kvserr.ProtocolError, "pong value did not match ping")
	}

	return fn(w, r)
}

// expectSuccess decodes env as Success (calling onValue with its payload)
// or Error (returned as an errWithKind so callers can branch on the
// server's error kind), and rejects anything else as a protocol violation.
func expectSuccess(env proto.Envelope, onValue func(*string) error) error {
	switch env.Type {
	case proto.TypeSuccess:
		p, err := proto.DecodeSuccess(env)
		if err != nil {
			return err
		}
		return onValue(p.Value)
	case proto.TypeError:
		p, err := proto.DecodeError(env)
		if err != nil {
			return err
		}
		return &errWithKind{msg: p.Msg, kind: p.Kind}
	default:
		return kvserr.New(kvserr.ProtocolError, "unexpected response type "+env.Type)
	}
}

// errWithKind carries a server-reported error kind across the wire so
// client subcommands can special-case specific kinds (NotFound for rm)
// without string-matching the formatted message.
type errWithKind struct {
	msg  string
	kind string
}

func (e *errWithKind) Error() string { return e.msg }
