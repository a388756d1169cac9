package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ahwlsqja/permission-client/pkg/datafile"
	"github.com/ahwlsqja/permission-client/pkg/permissions"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

type command func(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error

var commands = map[string]command{
	"grant":            grantCmd,
	"revoke":           revokeCmd,
	"trust":            trustCmd,
	"untrust":          untrustCmd,
	"register-grantee": registerGranteeCmd,
	"permissions":      permissionsCmd,
	"servers":          serversCmd,
	"upload":           uploadCmd,
	"decrypt":          decryptCmd,
	"pubkey":           pubkeyCmd,
}

// txFlags are the flags shared by state-changing commands.
type txFlags struct {
	gasPrice    string
	maxFee      string
	maxPriority string
	gas         string
	nonce       string
	wait        bool
}

func (t *txFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&t.gasPrice, "gas-price", "", "legacy gas price in wei")
	fs.StringVar(&t.maxFee, "max-fee", "", "EIP-1559 max fee per gas in wei")
	fs.StringVar(&t.maxPriority, "max-priority-fee", "", "EIP-1559 max priority fee per gas in wei")
	fs.StringVar(&t.gas, "gas", "", "gas limit")
	fs.StringVar(&t.nonce, "tx-nonce", "", "account transaction nonce")
	fs.BoolVar(&t.wait, "wait", false, "wait for the transaction receipt")
}

// options converts the flags into transaction options. No flags yields nil.
func (t *txFlags) options() (*wallet.TransactionOptions, error) {
	var (
		opts wallet.TransactionOptions
		set  bool
		err  error
	)
	for _, f := range []struct {
		raw  string
		name string
		dst  **big.Int
	}{
		{t.gasPrice, "gas-price", &opts.GasPrice},
		{t.maxFee, "max-fee", &opts.MaxFeePerGas},
		{t.maxPriority, "max-priority-fee", &opts.MaxPriorityFeePerGas},
	} {
		if f.raw == "" {
			continue
		}
		v, ok := new(big.Int).SetString(f.raw, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid --%s %q", f.name, f.raw)
		}
		*f.dst = v
		set = true
	}
	if opts.Gas, err = parseOptionalUint(t.gas, "gas"); err != nil {
		return nil, err
	}
	if opts.Nonce, err = parseOptionalUint(t.nonce, "tx-nonce"); err != nil {
		return nil, err
	}
	if !set && opts.Gas == nil && opts.Nonce == nil {
		return nil, nil
	}
	return &opts, nil
}

func parseOptionalUint(raw, name string) (*uint64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q", name, raw)
	}
	return &v, nil
}

func parseFileIDs(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid file id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseAddress(raw, name string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid --%s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseBig(raw, name string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid --%s %q", name, raw)
	}
	return v, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// finish prints the handle, and the mined result when --wait is set.
func finish(ctx context.Context, e *env, handle *permissions.TransactionHandle, wait bool, out io.Writer) error {
	if !wait {
		return writeJSON(out, handle)
	}
	result, err := e.client.WaitForResult(ctx, handle, permissions.WaitOptions{Timeout: e.cfg.Chain.ReceiptTimeout})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"handle": handle, "result": result})
}

func grantCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	var (
		tx        txFlags
		grantee   = fs.String("grantee", "", "grantee address")
		operation = fs.String("operation", "", "operation the grantee may perform")
		files     = fs.String("files", "", "comma separated file ids")
		params    = fs.String("params", "", "operation parameters as a JSON object")
		expires   = fs.Int64("expires", 0, "unix expiry in seconds, 0 for none")
		grantURL  = fs.String("grant-url", "", "use an already stored grant file")
	)
	tx.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	granteeAddr, err := parseAddress(*grantee, "grantee")
	if err != nil {
		return err
	}
	fileIDs, err := parseFileIDs(*files)
	if err != nil {
		return err
	}
	var parameters map[string]any
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &parameters); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}
	opts, err := tx.options()
	if err != nil {
		return err
	}

	res, err := e.client.Grant(ctx, permissions.GrantParams{
		Grantee:    granteeAddr,
		Operation:  *operation,
		Files:      fileIDs,
		Parameters: parameters,
		ExpiresAt:  *expires,
		GrantURL:   *grantURL,
	}, opts)
	if err != nil {
		return err
	}
	if res.Reused || !tx.wait {
		return writeJSON(out, res)
	}
	result, err := e.client.WaitForResult(ctx, res.Handle, permissions.WaitOptions{Timeout: e.cfg.Chain.ReceiptTimeout})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"grant": res, "result": result})
}

func revokeCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	var tx txFlags
	id := fs.String("id", "", "permission id")
	direct := fs.Bool("direct", false, "send an unsigned revokePermission from the wallet")
	tx.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	permissionID, err := parseBig(*id, "id")
	if err != nil {
		return err
	}
	opts, err := tx.options()
	if err != nil {
		return err
	}

	var handle *permissions.TransactionHandle
	if *direct {
		handle, err = e.client.RevokeDirect(ctx, permissionID, opts)
	} else {
		handle, err = e.client.Revoke(ctx, permissionID, opts)
	}
	if err != nil {
		return err
	}
	return finish(ctx, e, handle, tx.wait, out)
}

func trustCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	var tx txFlags
	server := fs.String("server", "", "server address")
	serverURL := fs.String("url", "", "server URL")
	direct := fs.Bool("direct", false, "send an unsigned trustServer from the wallet")
	tx.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	serverID, err := parseAddress(*server, "server")
	if err != nil {
		return err
	}
	opts, err := tx.options()
	if err != nil {
		return err
	}

	params := permissions.TrustServerParams{ServerID: serverID, ServerURL: *serverURL}
	var handle *permissions.TransactionHandle
	if *direct {
		handle, err = e.client.TrustServerDirect(ctx, params, opts)
	} else {
		handle, err = e.client.TrustServer(ctx, params, opts)
	}
	if err != nil {
		return err
	}
	return finish(ctx, e, handle, tx.wait, out)
}

func untrustCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	var tx txFlags
	server := fs.String("server", "", "server address")
	direct := fs.Bool("direct", false, "send an unsigned untrustServer from the wallet")
	tx.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	serverID, err := parseAddress(*server, "server")
	if err != nil {
		return err
	}
	opts, err := tx.options()
	if err != nil {
		return err
	}

	var handle *permissions.TransactionHandle
	if *direct {
		handle, err = e.client.UntrustServerDirect(ctx, serverID, opts)
	} else {
		handle, err = e.client.UntrustServer(ctx, serverID, opts)
	}
	if err != nil {
		return err
	}
	return finish(ctx, e, handle, tx.wait, out)
}

func registerGranteeCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	var tx txFlags
	grantee := fs.String("grantee", "", "grantee address")
	publicKey := fs.String("public-key", "", "grantee public key")
	owner := fs.String("owner", "", "owner address, defaults to the wallet account")
	tx.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	granteeAddr, err := parseAddress(*grantee, "grantee")
	if err != nil {
		return err
	}
	params := permissions.RegisterGranteeParams{GranteeAddress: granteeAddr, PublicKey: *publicKey}
	if *owner != "" {
		ownerAddr, err := parseAddress(*owner, "owner")
		if err != nil {
			return err
		}
		params.Owner = &ownerAddr
	}
	opts, err := tx.options()
	if err != nil {
		return err
	}

	handle, err := e.client.RegisterGrantee(ctx, params, opts)
	if err != nil {
		return err
	}
	return finish(ctx, e, handle, tx.wait, out)
}

// accountFlag resolves --account, defaulting to the wallet account.
func accountFlag(ctx context.Context, e *env, raw string) (common.Address, error) {
	if raw != "" {
		return parseAddress(raw, "account")
	}
	return e.client.Resolver().ResolveUserAddress(ctx)
}

func permissionsCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	account := fs.String("account", "", "account to list, defaults to the wallet account")
	activeOnly := fs.Bool("active", false, "only list active permissions")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	user, err := accountFlag(ctx, e, *account)
	if err != nil {
		return err
	}
	perms, err := e.client.GetUserPermissions(ctx, user)
	if err != nil {
		return err
	}
	if *activeOnly {
		active := perms[:0]
		for _, p := range perms {
			if p.Active {
				active = append(active, p)
			}
		}
		perms = active
	}
	return writeJSON(out, perms)
}

func serversCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	account := fs.String("account", "", "account to list, defaults to the wallet account")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	user, err := accountFlag(ctx, e, *account)
	if err != nil {
		return err
	}
	servers, err := e.client.GetTrustedServers(ctx, user)
	if err != nil {
		return err
	}
	return writeJSON(out, servers)
}

func uploadCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	file := fs.String("file", "", "path of the file to upload")
	name := fs.String("name", "", "storage name, defaults to the file name")
	encrypt := fs.Bool("encrypt", false, "encrypt for the wallet account")
	owner := fs.String("owner", "", "owner address, defaults to the wallet account")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	params := datafile.UploadParams{Data: data, Name: *name, Encrypt: *encrypt}
	if params.Name == "" {
		params.Name = *file
	}
	if *owner != "" {
		ownerAddr, err := parseAddress(*owner, "owner")
		if err != nil {
			return err
		}
		params.Owner = &ownerAddr
	}

	res, err := e.datafile.Upload(ctx, params)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func decryptCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	url := fs.String("url", "", "URL of the encrypted file")
	dest := fs.String("out", "", "write plaintext to this path instead of stdout")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *url == "" {
		return errors.New("--url is required")
	}

	plaintext, err := e.datafile.Decrypt(ctx, *url)
	if err != nil {
		return err
	}
	if *dest != "" {
		return os.WriteFile(*dest, plaintext, 0o600)
	}
	_, err = out.Write(plaintext)
	return err
}

func pubkeyCmd(ctx context.Context, e *env, fs *flag.FlagSet, args []string, out io.Writer) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	pub, err := e.datafile.PublicKey(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "0x%s\n", hex.EncodeToString(pub.SerializeUncompressed()))
	return err
}
