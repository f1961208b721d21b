package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/history"
	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/session"
	"github.com/dvrsch/lensctl/internal/statusapi"
	"github.com/dvrsch/lensctl/internal/uploader"
)

const version = "0.0.1"

const defaultStatusAddr = "127.0.0.1:9080"

func main() {
	observability.InitLogger("lensctl")
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	verb, args := os.Args[1], os.Args[2:]
	var err error
	switch verb {
	case "scan":
		err = runScan(args)
	case "stream":
		err = runStream(args)
	case "upload":
		err = runUpload(args)
	case "run":
		err = runDaemon(args)
	case "status":
		err = runStatus(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		fatalf("unknown command %q", verb)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lensctl <command> [flags]

commands:
  scan     list peripherals advertising the display service
  stream   connect and stream stdin lines to the display
  upload   connect and upload a script file
  run      supervised daemon with auto-reconnect and status API
  status   query a running daemon`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "lensctl: "+format+"\n", args...)
	os.Exit(1)
}

type commonOpts struct {
	configPath string
	transport  string
	bridgeAddr string
	device     string
	namePrefix string
}

func commonFlags(fs *flag.FlagSet) *commonOpts {
	o := &commonOpts{}
	fs.StringVar(&o.configPath, "config", "", "path to TOML config file")
	fs.StringVar(&o.transport, "transport", "", "link transport: bluez | bridge")
	fs.StringVar(&o.bridgeAddr, "bridge-addr", "", "simulator address (transport=bridge)")
	fs.StringVar(&o.device, "device", "", "peripheral address to pin")
	fs.StringVar(&o.namePrefix, "name-prefix", "", "peripheral name prefix filter")
	return o
}

// load reads the config file, then lets flags override it.
func (o *commonOpts) load() (appConfig, error) {
	cfg, err := loadAppConfig(o.configPath)
	if err != nil {
		return appConfig{}, err
	}
	if o.transport != "" {
		cfg.Transport = o.transport
	}
	if o.bridgeAddr != "" {
		cfg.BridgeAddr = o.bridgeAddr
	}
	if o.device != "" {
		cfg.Session.DeviceID = o.device
	}
	if o.namePrefix != "" {
		cfg.Session.NamePrefix = o.namePrefix
	}
	return cfg, nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	o := commonFlags(fs)
	timeout := fs.Duration("timeout", 10*time.Second, "how long to scan")
	fs.Parse(args)

	cfg, err := o.load()
	if err != nil {
		return err
	}
	tr, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	cands, stop, err := tr.Scan(ctx)
	if err != nil {
		return err
	}
	defer stop()

	n := 0
	for {
		select {
		case c, ok := <-cands:
			if !ok {
				return doneScanning(n)
			}
			n++
			fmt.Printf("%-20s  rssi=%-4d  %s\n", c.ID, c.RSSI, c.Name)
		case <-ctx.Done():
			return doneScanning(n)
		}
	}
}

func doneScanning(n int) error {
	if n == 0 {
		fmt.Println("no peripherals found")
	}
	return nil
}

func runStream(args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	o := commonFlags(fs)
	uploadFile := fs.String("upload", "", "script to upload before streaming")
	fs.Parse(args)

	cfg, err := o.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	sess, err := connectSession(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer sess.Disconnect(context.Background())

	if *uploadFile != "" {
		if err := uploadScript(ctx, sess, *uploadFile, "main.py", true); err != nil {
			return err
		}
	}

	src := make(chan string)
	if err := sess.Start(src); err != nil {
		return err
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
feed:
	for sc.Scan() {
		line := sc.Text()
		select {
		case src <- line:
			if store != nil {
				if err := store.RecordCaption(line); err != nil {
					log.Warn().Err(err).Msg("caption not recorded")
				}
			}
		case <-ctx.Done():
			break feed
		}
	}
	close(src)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	if err := sess.Stop(stopCtx); err != nil && !errors.Is(err, session.ErrInvalidState) {
		log.Warn().Err(err).Msg("stop")
	}
	return sc.Err()
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	o := commonFlags(fs)
	name := fs.String("as", "main.py", "target file name on the peripheral")
	reset := fs.Bool("reset", false, "reset the peripheral after upload so the script runs")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lensctl upload [flags] <file>")
	}

	cfg, err := o.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := connectSession(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer sess.Disconnect(context.Background())

	if err := uploadScript(ctx, sess, fs.Arg(0), *name, *reset); err != nil {
		return err
	}
	return nil
}

// uploadScript breaks into the interpreter, runs the upload, and
// optionally resets so the new script starts.
func uploadScript(ctx context.Context, sess *session.Session, path, name string, reset bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// A running program would swallow our commands; interrupt it first.
	if err := sess.SendBreak(ctx); err != nil {
		return err
	}

	up, err := uploader.New(sess, uploader.Config{
		OnChunk: func(sent, total int) {
			fmt.Fprintf(os.Stderr, "\rchunk %d/%d", sent, total)
		},
	})
	if err != nil {
		return err
	}
	if err := up.Upload(ctx, name, string(content)); err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	fmt.Fprintf(os.Stderr, "\ruploaded %s as %s (%d bytes)\n", path, name, len(content))

	if reset {
		return sess.SendReset(ctx)
	}
	return nil
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	o := commonFlags(fs)
	fs.Parse(args)

	cfg, err := o.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	attachCallbacks(&cfg.Session, store)
	tr, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	sess, err := session.New(tr, cfg.Session)
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		srv := statusapi.New(sess, store, statusapi.Config{
			Addr:        cfg.StatusAddr,
			CORSOrigins: cfg.CORSOrigins,
			Version:     version,
		})
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error().Err(err).Msg("status api stopped")
			}
		}()
	}

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to TOML config file")
	addr := fs.String("addr", "", "status API address (defaults to the config's status_addr)")
	fs.Parse(args)

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		return err
	}
	target := *addr
	if target == "" {
		target = cfg.StatusAddr
	}
	if target == "" {
		target = defaultStatusAddr
	}
	if strings.HasPrefix(target, ":") {
		target = "127.0.0.1" + target
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + target + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func openHistory(cfg appConfig) (*history.Store, error) {
	if cfg.HistoryPath == "" {
		return nil, nil
	}
	return history.Open(cfg.HistoryPath)
}

func attachCallbacks(sc *session.Config, store *history.Store) {
	sc.OnTelemetry = func(level int) {
		log.Info().Int("battery", level).Msg("telemetry")
		if store != nil {
			if err := store.RecordTelemetry(level); err != nil {
				log.Warn().Err(err).Msg("telemetry not recorded")
			}
		}
	}
	sc.OnConsole = func(line string) {
		log.Info().Str("text", line).Msg("peripheral console")
	}
}

func connectSession(ctx context.Context, cfg appConfig, store *history.Store) (*session.Session, error) {
	attachCallbacks(&cfg.Session, store)
	tr, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(tr, cfg.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
