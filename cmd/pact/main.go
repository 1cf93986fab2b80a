// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// pact is the command line interface to the pact contracts: a mutual
// consent, pairwise encrypted messaging ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/katzenpost/hpqc/sign/ed25519"

	"github.com/katzenpost/pact/channel"
	"github.com/katzenpost/pact/config"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/internal/instrument"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
	"github.com/katzenpost/pact/roster"
	"github.com/katzenpost/pact/seal"
	"github.com/katzenpost/pact/spool"
)

type node struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	registry *registry.Registry
	roster   *roster.Roster
	spool    *spool.Spool
}

// open loads the config and brings up the ledger and the three contracts.
func open(configFile string) (*node, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	logBackend, err := cfg.InitLogBackend()
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Disable {
		instrument.Init(cfg.Metrics.Address)
	}
	l, err := ledger.Open(cfg.LedgerPath(), logBackend)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, ledger: l}
	if n.registry, err = registry.New(l, logBackend); err != nil {
		l.Close()
		return nil, err
	}
	if n.roster, err = roster.New(l, logBackend); err != nil {
		l.Close()
		return nil, err
	}
	if n.spool, err = spool.New(l, logBackend); err != nil {
		l.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) close() {
	n.ledger.Close()
}

// resolve turns a handle or a hex identity into an identity.
func (n *node) resolve(s string) (identity.Identity, error) {
	if id, err := identity.FromString(s); err == nil {
		return id, nil
	}
	return n.registry.LookupHandle(s)
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "pact",
		Short:         "Mutual consent pairwise encrypted messaging ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "f", "pact.toml",
		"path to the pact configuration file (TOML format)")

	cmd.AddCommand(
		newKeygenCommand(),
		newRegisterCommand(&configFile),
		newLookupCommand(&configFile),
		newFriendsCommand(&configFile),
		newRequestCommand(&configFile),
		newAcceptCommand(&configFile),
		newRejectCommand(&configFile),
		newCancelCommand(&configFile),
		newUnfriendCommand(&configFile),
		newPendingCommand(&configFile),
		newSendCommand(&configFile),
		newMessagesCommand(&configFile),
		newMarkCommand(&configFile),
		newEventsCommand(&configFile),
	)
	return cmd
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.Scheme().GenerateKey()
			if err != nil {
				return err
			}
			pubBytes, err := pub.MarshalBinary()
			if err != nil {
				return err
			}
			privBytes, err := priv.MarshalBinary()
			if err != nil {
				return err
			}
			id, err := identity.FromBytes(pubBytes)
			if err != nil {
				return err
			}
			fmt.Printf("identity: %s\n", id)
			fmt.Printf("private: %x\n", privBytes)
			return nil
		},
	}
}

func newRegisterCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register <identity> <handle>",
		Short: "Claim a handle for an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			id, err := identity.FromString(args[0])
			if err != nil {
				return err
			}
			return n.registry.Register(id, args[1])
		},
	}
}

func newLookupCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <handle|identity>",
		Short: "Look up a registered identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			id, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			rec, err := n.registry.Lookup(id)
			if err != nil {
				return err
			}
			if rec.Handle == "" {
				fmt.Printf("%s is not registered\n", id)
				return nil
			}
			fmt.Printf("identity: %s\nhandle: %s\nfriends: %d\n", rec.Identity, rec.Handle, len(rec.Friends))
			return nil
		},
	}
}

func newFriendsCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "friends <handle|identity>",
		Short: "List an identity's friends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			id, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			rec, err := n.registry.Lookup(id)
			if err != nil {
				return err
			}
			for _, friend := range rec.Friends {
				frec, err := n.registry.Lookup(friend)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", friend, frec.Handle)
			}
			return nil
		},
	}
}

func pairCommand(configFile *string, use, short string, run func(n *node, a, b identity.Identity) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			a, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			b, err := n.resolve(args[1])
			if err != nil {
				return err
			}
			return run(n, a, b)
		},
	}
}

func newRequestCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "request <from> <to>", "Send a friend request",
		func(n *node, a, b identity.Identity) error {
			return n.roster.SendRequest(a, b)
		})
}

func newAcceptCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "accept <from> <to>", "Accept a pending friend request, as its recipient",
		func(n *node, a, b identity.Identity) error {
			return n.roster.Accept(a, b)
		})
}

func newRejectCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "reject <from> <to>", "Reject a pending friend request, as its recipient",
		func(n *node, a, b identity.Identity) error {
			return n.roster.Reject(a, b)
		})
}

func newCancelCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "cancel <from> <to>", "Withdraw a friend request you sent",
		func(n *node, a, b identity.Identity) error {
			return n.roster.Cancel(a, b)
		})
}

func newUnfriendCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "unfriend <a> <b>", "Dissolve a friendship",
		func(n *node, a, b identity.Identity) error {
			return n.roster.RemoveFriend(a, b)
		})
}

func newPendingCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <handle|identity>",
		Short: "List pending friend requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			id, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			in, err := n.roster.PendingIncoming(id)
			if err != nil {
				return err
			}
			for _, req := range in {
				fmt.Printf("incoming from %s at %d\n", req.From, req.Time)
			}
			out, err := n.roster.PendingOutgoing(id)
			if err != nil {
				return err
			}
			for _, req := range out {
				fmt.Printf("outgoing to %s at %d\n", req.To, req.Time)
			}
			return nil
		},
	}
}

func newSendCommand(configFile *string) *cobra.Command {
	var file bool
	var plaintext bool

	cmd := &cobra.Command{
		Use:   "send <from> <to> <payload>",
		Short: "Seal and append a message to the pair's channel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			from, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			to, err := n.resolve(args[1])
			if err != nil {
				return err
			}
			kind := spool.KindText
			if file {
				kind = spool.KindFile
			}
			payload := []byte(args[2])
			confidential := !plaintext
			if confidential {
				if payload, err = seal.Encrypt(payload, from, to); err != nil {
					return err
				}
			}
			index, err := n.spool.Send(from, to, payload, kind, confidential)
			if err != nil {
				return err
			}
			chID := channel.Address(from, to)
			fmt.Printf("message %d appended to channel %x\n", index, chID[:])
			return nil
		},
	}
	cmd.Flags().BoolVar(&file, "file", false, "send a file URL instead of text")
	cmd.Flags().BoolVar(&plaintext, "plaintext", false, "skip sealing and store the payload in the clear")
	return cmd
}

func newMessagesCommand(configFile *string) *cobra.Command {
	return pairCommand(configFile, "messages <caller> <counterparty>", "Read and unseal the pair's channel",
		func(n *node, a, b identity.Identity) error {
			msgs, err := n.spool.Messages(a, b)
			if err != nil {
				return err
			}
			for i, msg := range msgs {
				payload := msg.Payload
				rendered := string(payload)
				if msg.Confidential {
					if plain, err := seal.Decrypt(payload, a, b); err == nil {
						rendered = string(plain)
					} else {
						rendered = "[ciphertext]"
					}
				}
				direction := "<-"
				if msg.Sender == a {
					direction = "->"
				}
				fmt.Printf("%4d %s %-9s %s\n", i, direction, msg.Status, rendered)
			}
			return nil
		})
}

func newMarkCommand(configFile *string) *cobra.Command {
	var read bool

	cmd := &cobra.Command{
		Use:   "mark <caller> <counterparty> <index>",
		Short: "Advance a received message's delivery status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			caller, err := n.resolve(args[0])
			if err != nil {
				return err
			}
			counterparty, err := n.resolve(args[1])
			if err != nil {
				return err
			}
			index, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return err
			}
			if read {
				return n.spool.MarkRead(caller, counterparty, index)
			}
			return n.spool.MarkDelivered(caller, counterparty, index)
		},
	}
	cmd.Flags().BoolVar(&read, "read", false, "mark read instead of delivered")
	return cmd
}

func newEventsCommand(configFile *string) *cobra.Command {
	var since uint64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Dump the ledger's event outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := open(*configFile)
			if err != nil {
				return err
			}
			defer n.close()
			events, err := n.ledger.EventsSince(since)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Printf("%6d %d %s\n", ev.Seq, ev.Time, ev.Kind)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "only events with sequence number greater than this")
	return cmd
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
