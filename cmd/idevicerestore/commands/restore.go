package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"howett.net/plist"

	"github.com/stek29/idevicerestore/internal/cli/output"
	"github.com/stek29/idevicerestore/internal/cli/prompt"
	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/restore/dispatch"
	"github.com/stek29/idevicerestore/internal/restore/driver"
	"github.com/stek29/idevicerestore/internal/restore/progress"
	"github.com/stek29/idevicerestore/internal/restore/session"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/internal/transport"
	"github.com/stek29/idevicerestore/pkg/archive"
	"github.com/stek29/idevicerestore/pkg/buildidentity"
	"github.com/stek29/idevicerestore/pkg/cpio"
	"github.com/stek29/idevicerestore/pkg/metrics"
	"github.com/stek29/idevicerestore/pkg/personalize"
	"github.com/stek29/idevicerestore/pkg/restoreconfig"
	"github.com/stek29/idevicerestore/pkg/ticket"

	// Registers the Prometheus constructors for pkg/metrics' indirection.
	_ "github.com/stek29/idevicerestore/pkg/metrics/prometheus"
)

var (
	udid     string
	dialAddr string
	force    bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Drive a restore session against a device already in restore mode",
	Long: `restore opens the device's restore connection, answers the restore
daemon's data requests out of the configured firmware archive, and drives
the session to completion.

The device must already be in restore mode and reachable at --dial-addr
(a host:port the restore protocol's framed TCP transport is being proxied
through); this command does not itself place the device into restore mode
or discover it over USB.`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVar(&udid, "udid", "", "target device UDID (logged only; identity is verified by ECID)")
	restoreCmd.Flags().StringVar(&dialAddr, "dial-addr", "", "host:port of the device's restore protocol endpoint")
	restoreCmd.Flags().BoolVarP(&force, "force", "y", false, "skip the erase confirmation prompt")
	restoreCmd.MarkFlagRequired("dial-addr")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := restoreconfig.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, cancelling restore")
		cancel()
	}()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ToProfilingConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Warn("profiling shutdown error", logger.Err(err))
		}
	}()

	var restoreMetrics metrics.RestoreMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		restoreMetrics = metrics.NewRestoreMetrics()
	}

	logger.Info("configuration loaded", logger.ArchivePath(cfg.ArchivePath), logger.Variant(cfg.Variant))

	if cfg.Variant == "Erase" {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("This will ERASE device ECID %s. Continue?", cfg.ECID), force)
		if err != nil {
			return err
		}
		if !ok {
			return prompt.ErrAborted
		}
	}

	ar, err := openArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open firmware archive: %w", err)
	}
	defer ar.Close()

	bi, err := loadBuildIdentity(ctx, ar, cfg.Variant)
	if err != nil {
		return fmt.Errorf("failed to load build identity: %w", err)
	}

	printComponentTable(bi)

	dialer := &transport.TCPDialer{Addr: dialAddr}

	sess, err := session.Open(ctx, dialer, udid, cfg)
	if err != nil {
		return fmt.Errorf("failed to open restore session: %w", err)
	}
	sess.State.BuildIdentity = bi

	personalizer := personalize.New(sess.State.Image4Supported, false)
	ticketClient := ticket.New(cfg.TicketEndpoint, cfg.ConnectTimeout)
	ticketBuilder := ticket.NewBuilder(ticket.DeviceIdentity{
		ECID:   sess.State.ECID,
		Serial: sess.State.Serial,
	}, ticket.Request{})

	// The real preflight exchange (reading ApNonce/SepNonce/ChipID/BoardID/
	// SecurityDomain from a lockdownd DeviceInfo query before requesting the
	// AP ticket) is out of scope here; this issues a best-effort request
	// using only the fields the session already carries.
	apReq := ticketBuilder.AP(ticket.Request{})
	apTicket, err := ticketClient.Request(ctx, "ap", apReq)
	if err != nil {
		return fmt.Errorf("failed to obtain AP ticket: %w", err)
	}

	disp := &dispatch.Dispatcher{
		State:         sess.State,
		Codec:         sess.Codec,
		Archive:       ar,
		TicketClient:  ticketClient,
		TicketBuilder: ticketBuilder,
		Personalizer:  personalizer,
		BuildIdentity: bi,
		APTicket:      apTicket,
		Dial:          dataPortDialer(dialAddr),
		Metrics:       restoreMetrics,
	}

	mapper := &progress.Mapper{
		ProtocolVersion: sess.State.ProtocolVersion,
		Metrics:         restoreMetrics,
	}

	d := driver.New(sess, disp, mapper, nil, restoreMetrics)

	exitCode := d.Run(ctx)
	if exitCode != 0 {
		return fmt.Errorf("restore session exited with code %d", exitCode)
	}

	fmt.Println("Restore completed successfully.")
	return nil
}

// openArchive opens the firmware archive from the configured source.
func openArchive(ctx context.Context, cfg *restoreconfig.Options) (*archive.Reader, error) {
	switch cfg.ArchiveSource {
	case "s3":
		return archive.OpenS3(ctx, cfg.S3)
	default:
		return archive.Open(cfg.ArchivePath)
	}
}

// buildManifestPath is the conventional location of the archive's build
// manifest within an IPSW-style firmware archive.
const buildManifestPath = "BuildManifest.plist"

func loadBuildIdentity(ctx context.Context, ar *archive.Reader, variant string) (*buildidentity.BuildIdentity, error) {
	raw, err := ar.ExtractToMemory(ctx, buildManifestPath)
	if err != nil {
		return nil, err
	}

	var decoded map[string]interface{}
	if _, err := plist.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode build manifest: %w", err)
	}

	manifest, err := buildidentity.DecodeManifest(decoded)
	if err != nil {
		return nil, err
	}

	return manifest.Select(variant)
}

// printComponentTable renders the selected build identity's components
// for operator review before the session opens.
func printComponentTable(bi *buildidentity.BuildIdentity) {
	t := output.NewComponentTable()
	for name, entry := range bi.Manifest {
		t.AddComponent(name, entry.Info.Path, entry.Info.RequiredCapacity)
	}
	if err := output.PrintTable(os.Stdout, t); err != nil {
		logger.Warn("failed to print component table", logger.Err(err))
	}
}

// dataPortMaxAttempts/dataPortRetryDelay mirror restore.c's data-port connect
// loop, used for both BootabilityBundle and BasebandUpdaterOutputData
// connects: up to 10 attempts, 1 second apart.
const (
	dataPortMaxAttempts = 10
	dataPortRetryDelay  = time.Second
)

// dataPortDialer returns a DialFunc that dials the device's restore host at
// the given port, reusing the host portion of dialAddr. The device-supplied
// port for BootabilityBundle/BasebandUpdaterOutputData connects is separate
// from the main restore control channel but reachable at the same host in
// every topology this transport supports.
func dataPortDialer(addr string) dispatch.DialFunc {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return func(ctx context.Context, port uint16) (net.Conn, error) {
		return cpio.DialConn(ctx, fmt.Sprintf("%s:%d", host, port), dataPortMaxAttempts, dataPortRetryDelay)
	}
}
