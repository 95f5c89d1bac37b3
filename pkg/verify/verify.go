// Package verify submits deployed contracts for source verification.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/screa/create2-deployer/pkg/artifact"
)

// ErrNoCommand is returned when the verifier has no command to run.
var ErrNoCommand = errors.New("no verify command configured")

// Verifier submits a deployed contract and its constructor arguments to a
// source verification service.
type Verifier interface {
	Verify(ctx context.Context, address common.Address, args []any) error
}

// CommandVerifier shells out to a verification tool such as
// `npx hardhat verify`. The address and constructor arguments are appended
// to the command line.
type CommandVerifier struct {
	Command string
	Network string
	Dir     string
	Timeout time.Duration
	Logger  log.Logger
}

// Args returns the argv executed for address and args.
func (v *CommandVerifier) Args(address common.Address, args []any) []string {
	argv := strings.Fields(v.Command)
	if v.Network != "" {
		argv = append(argv, "--network", v.Network)
	}
	argv = append(argv, address.Hex())
	return append(argv, artifact.FormatArgs(args)...)
}

func (v *CommandVerifier) Verify(ctx context.Context, address common.Address, args []any) error {
	argv := v.Args(address, args)
	if len(argv) == 0 || strings.TrimSpace(v.Command) == "" {
		return ErrNoCommand
	}
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.Dir
	cmd.Stdout = &out
	cmd.Stderr = &out

	if v.Logger != nil {
		v.Logger.Debug("Running verification", "cmd", strings.Join(argv, " "))
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("verify %s: %w: %s", address.Hex(), err, strings.TrimSpace(out.String()))
	}
	if v.Logger != nil {
		v.Logger.Debug("Verification output", "output", strings.TrimSpace(out.String()))
	}
	return nil
}
