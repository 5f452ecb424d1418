package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bionicotaku/lingo-utils-tokenx"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "encode":
		err = runEncode(logger, os.Args[2:])
	case "decode":
		err = runDecode(logger, os.Args[2:])
	default:
		usage()
		logger.Error("unknown command", slog.String("command", cmd))
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tokenx-cli encode|decode [flags]")
}

const envPrefix = "tokenx_"

// loadConfig layers TOKENX_* environment variables over an optional .env file.
// Keys in the file may be written with or without the TOKENX_ prefix; the
// prefixed spelling wins when both are present.
func loadConfig(logger *slog.Logger, envFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TOKENX")
	v.AutomaticEnv()
	v.SetDefault("kind", "client")
	v.SetDefault("leeway", "0s")
	if envFile == "" {
		return v
	}

	file := viper.New()
	file.SetConfigFile(envFile)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("load env file", slog.String("path", envFile), slog.Any("error", err))
		}
		return v
	}
	keys := file.AllKeys()
	for _, key := range keys {
		if !strings.HasPrefix(key, envPrefix) {
			v.SetDefault(key, file.Get(key))
		}
	}
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, envPrefix); ok && name != "" {
			v.SetDefault(name, file.Get(key))
		}
	}
	return v
}

func envFileFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-env" || arg == "--env":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > 5 && arg[:5] == "-env=":
			return arg[5:]
		case len(arg) > 6 && arg[:6] == "--env=":
			return arg[6:]
		}
	}
	if path := os.Getenv("TOKENX_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

func runEncode(logger *slog.Logger, args []string) error {
	cfg := loadConfig(logger, envFileFromArgs(args))

	flags := flag.NewFlagSet("encode", flag.ContinueOnError)
	flags.String("env", ".env", "Path to .env file (env TOKENX_ENV_FILE)")
	keyPath := flags.String("private-key", cfg.GetString("private_key"), "PEM or DER private key file (env TOKENX_PRIVATE_KEY)")
	kind := flags.String("kind", cfg.GetString("kind"), "Token kind: client or server (env TOKENX_KIND)")
	subject := flags.String("subject", cfg.GetString("subject"), "Subject identifier (env TOKENX_SUBJECT)")
	reference := flags.Uint64("ref", cfg.GetUint64("reference"), "Reference number (env TOKENX_REFERENCE)")
	var buffer, client, server optionalString
	flags.Var(&buffer, "buffer", "Opaque client payload")
	flags.Var(&client, "client", "Client identifier for server tokens")
	flags.Var(&server, "server", "Server identifier for server tokens")
	var exp, nbf, iat optionalInt64
	flags.Var(&exp, "exp", "Expiry override in Unix seconds")
	flags.Var(&nbf, "nbf", "Not-before override in Unix seconds")
	flags.Var(&iat, "iat", "Issued-at override in Unix seconds")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		flags.Usage()
		return errors.New("subject is required")
	}

	key, err := tokenx.KeyConfig{PrivateKeyPath: *keyPath}.LoadPrivateKey()
	if err != nil {
		return err
	}

	var opts []tokenx.ClaimsOption
	if exp.set {
		opts = append(opts, tokenx.WithExpiry(exp.value))
	}
	if nbf.set {
		opts = append(opts, tokenx.WithNotBefore(nbf.value))
	}
	if iat.set {
		opts = append(opts, tokenx.WithIssuedAt(iat.value))
	}

	codec := tokenx.NewCodec(tokenx.WithLogger(logger))
	var token string
	switch *kind {
	case tokenx.ClientToken.String():
		token, err = codec.EncodeClientToken(key, []byte(*subject), buffer.bytes(), *reference, opts...)
	case tokenx.ServerToken.String():
		token, err = codec.EncodeServerToken(key, []byte(*subject), client.bytes(), server.bytes(), *reference, opts...)
	default:
		return fmt.Errorf("unknown token kind %q", *kind)
	}
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runDecode(logger *slog.Logger, args []string) error {
	cfg := loadConfig(logger, envFileFromArgs(args))

	flags := flag.NewFlagSet("decode", flag.ContinueOnError)
	flags.String("env", ".env", "Path to .env file (env TOKENX_ENV_FILE)")
	keyPath := flags.String("public-key", cfg.GetString("public_key"), "PEM or DER public key file (env TOKENX_PUBLIC_KEY)")
	kind := flags.String("kind", cfg.GetString("kind"), "Token kind: client or server (env TOKENX_KIND)")
	token := flags.String("token", cfg.GetString("token"), "Token to decode (env TOKENX_TOKEN)")
	leeway := flags.Duration("leeway", cfg.GetDuration("leeway"), "Clock skew tolerance (env TOKENX_LEEWAY)")
	format := flags.String("format", "json", "Output format: json or text")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		flags.Usage()
		return errors.New("token is required")
	}
	if *format != "json" && *format != "text" {
		return fmt.Errorf("unknown output format %q", *format)
	}

	key, err := tokenx.KeyConfig{PublicKeyPath: *keyPath}.LoadPublicKey()
	if err != nil {
		return err
	}

	codec := tokenx.NewCodec(tokenx.WithLogger(logger), tokenx.WithLeeway(*leeway))
	var claims tokenx.Claims
	switch *kind {
	case tokenx.ClientToken.String():
		claims, err = codec.DecodeClientToken(key, *token)
	case tokenx.ServerToken.String():
		claims, err = codec.DecodeServerToken(key, *token)
	default:
		return fmt.Errorf("unknown token kind %q", *kind)
	}
	if err != nil {
		return err
	}
	return writeClaims(os.Stdout, *format, claims)
}

type claimsView struct {
	Kind      string  `json:"kind"`
	Subject   string  `json:"subject"`
	Reference uint64  `json:"reference"`
	IssuedAt  string  `json:"issued_at"`
	NotBefore string  `json:"not_before"`
	ExpiresAt string  `json:"expires_at"`
	Buffer    *string `json:"buffer,omitempty"`
	Client    *string `json:"client,omitempty"`
	Server    *string `json:"server,omitempty"`
}

func newClaimsView(claims tokenx.Claims) claimsView {
	view := claimsView{
		Subject:   string(claims.Subject()),
		Reference: claims.Reference(),
		IssuedAt:  formatUnix(claims.IssuedAt()),
		NotBefore: formatUnix(claims.NotBefore()),
		ExpiresAt: formatUnix(claims.Expiry()),
	}
	switch c := claims.(type) {
	case *tokenx.ClientClaims:
		view.Kind = tokenx.ClientToken.String()
		view.Buffer = optionalField(c.Buffer())
	case *tokenx.ServerClaims:
		view.Kind = tokenx.ServerToken.String()
		view.Client = optionalField(c.Client())
		view.Server = optionalField(c.Server())
	}
	return view
}

// writeClaims prints verified claims as indented JSON or as aligned text.
func writeClaims(w io.Writer, format string, claims tokenx.Claims) error {
	view := newClaimsView(claims)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	title := "Client"
	if view.Kind == tokenx.ServerToken.String() {
		title = "Server"
	}
	fmt.Fprintf(w, "== %s Token Verified ==\n", title)
	fmt.Fprintf(w, "subject      : %q\n", view.Subject)
	fmt.Fprintf(w, "reference    : %d\n", view.Reference)
	fmt.Fprintf(w, "issued_at    : %s\n", view.IssuedAt)
	fmt.Fprintf(w, "not_before   : %s\n", view.NotBefore)
	fmt.Fprintf(w, "expires_at   : %s\n", view.ExpiresAt)
	for _, field := range []struct {
		name  string
		value *string
	}{{"buffer", view.Buffer}, {"client", view.Client}, {"server", view.Server}} {
		if field.value != nil {
			fmt.Fprintf(w, "%-13s: %q\n", field.name, *field.value)
		}
	}
	return nil
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func optionalField(value []byte, ok bool) *string {
	if !ok {
		return nil
	}
	s := string(value)
	return &s
}

type optionalString struct {
	value string
	set   bool
}

func (o *optionalString) String() string { return o.value }

func (o *optionalString) Set(s string) error {
	o.value, o.set = s, true
	return nil
}

func (o *optionalString) bytes() []byte {
	if !o.set {
		return nil
	}
	return []byte(o.value)
}

type optionalInt64 struct {
	value int64
	set   bool
}

func (o *optionalInt64) String() string {
	if !o.set {
		return ""
	}
	return strconv.FormatInt(o.value, 10)
}

func (o *optionalInt64) Set(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	o.value, o.set = v, true
	return nil
}
