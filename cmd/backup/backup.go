// Package backup wires the `backup` executable's cobra command: flag
// parsing, host/target/checkpoint wiring, and dispatch into
// internal/backup's pipeline. One file per command, package-level flag
// variables, viper-backed settings, scaled to a single-command tool.
package backup

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wal-g/tracelog"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backup"
	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/checkpoint"
	"github.com/virtnbdbackup/virtnbdbackup/internal/config"
	"github.com/virtnbdbackup/virtnbdbackup/internal/hostcontrol"
	"github.com/virtnbdbackup/virtnbdbackup/internal/logging"
	"github.com/virtnbdbackup/virtnbdbackup/internal/nbd"
	"github.com/virtnbdbackup/virtnbdbackup/internal/signalhandling"
)

const shortDescription = "Back up a libvirt domain's disks via NBD"

// HostControlFactory builds the HostControl this command drives. Talking to
// an actual libvirt daemon needs a cgo binding this module does not vendor,
// so the default factory below refuses cleanly; a build wiring a real
// libvirt client overrides this variable at init time, exactly the seam
// ImageCreator draws in internal/restore for qcow2 creation.
var HostControlFactory = func(domain string) (hostcontrol.HostControl, error) {
	return nil, hostcontrol.NewHostControlError("backup: no HostControl implementation registered for domain %s", domain)
}

var (
	domainFlag     string
	outputFlag     string
	levelFlag      string
	typeFlag       string
	includeFlag    []string
	excludeFlag    []string
	compressFlag   bool
	workerFlag     int
	rawFlag        bool
	socketFileFlag string
	scratchDirFlag string
	strictFlag     bool
	startOnlyFlag  bool
	killOnlyFlag   bool
	printOnlyFlag  bool
	rateLimitFlag  int
)

// Cmd is the root command for the `backup` executable.
var Cmd = &cobra.Command{
	Use:   "virtnbdbackup",
	Short: shortDescription,
	RunE:  run,
}

func init() {
	config.AddConfigFlag(Cmd)
	cobra.OnInitialize(config.InitConfig, config.SetupLogging)

	Cmd.Flags().StringVar(&domainFlag, "domain", "", "libvirt domain name (required)")
	Cmd.Flags().StringVar(&outputFlag, "output", "", "target directory, or - for a stdout zip stream (required)")
	Cmd.Flags().StringVar(&levelFlag, "level", string(backupset.LevelCopy), "backup level: copy, full, inc, diff")
	Cmd.Flags().StringVar(&typeFlag, "type", "stream", "output type: stream, raw")
	Cmd.Flags().StringSliceVar(&includeFlag, "include", nil, "only back up these disk targets")
	Cmd.Flags().StringSliceVar(&excludeFlag, "exclude", nil, "skip these disk targets")
	Cmd.Flags().BoolVar(&compressFlag, "compress", false, "compress DATA frames")
	Cmd.Flags().IntVar(&workerFlag, "worker", 1, "number of disks to back up in parallel")
	Cmd.Flags().BoolVar(&rawFlag, "raw", false, "write raw disk images instead of the sparse stream format")
	Cmd.Flags().StringVar(&socketFileFlag, "socketfile", "", "NBD socket path the host backup job listens on")
	Cmd.Flags().StringVar(&scratchDirFlag, "scratchdir", "", "scratch directory for offline disk NBD servers")
	Cmd.Flags().BoolVar(&strictFlag, "strict", false, "exit 2 if any warning was logged")
	Cmd.Flags().BoolVar(&startOnlyFlag, "startonly", false, "start the host backup job and exit")
	Cmd.Flags().BoolVar(&killOnlyFlag, "killonly", false, "stop a running host backup job and exit")
	Cmd.Flags().BoolVar(&printOnlyFlag, "printonly", false, "print the planned backup without running it")
	Cmd.Flags().IntVar(&rateLimitFlag, "ratelimit", 0, "cap stream-format writes to this many bytes/sec per disk worker (0: unlimited)")

	_ = viper.BindPFlag(config.WorkerSetting, Cmd.Flags().Lookup("worker"))
	_ = viper.BindPFlag(config.StrictSetting, Cmd.Flags().Lookup("strict"))
	_ = viper.BindPFlag(config.SocketFileSetting, Cmd.Flags().Lookup("socketfile"))
	_ = viper.BindPFlag(config.ScratchDirSetting, Cmd.Flags().Lookup("scratchdir"))
	_ = viper.BindPFlag(config.RateLimitSetting, Cmd.Flags().Lookup("ratelimit"))
}

// Execute runs Cmd, exiting the process with the appropriate code per
// spec.md §6 ("0 success; 1 error; 2 backup completed with warnings when
// --strict").
func Execute() {
	if err := Cmd.Execute(); err != nil {
		logging.FatalOnError(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if domainFlag == "" || outputFlag == "" {
		return fmt.Errorf("backup: --domain and --output are required")
	}
	level := backupset.Level(levelFlag)
	raw := rawFlag || typeFlag == "raw"
	if raw && (level == backupset.LevelInc || level == backupset.LevelDiff) {
		return backup.NewRawIncrementalError()
	}

	target, worker, err := resolveTarget(outputFlag, workerFlag, raw)
	if err != nil {
		return err
	}

	ctx, guard := signalhandling.New(cmd.Context())
	defer guard.Stop()

	hc, err := HostControlFactory(domainFlag)
	if err != nil {
		return err
	}
	guard.AddStep(func() {
		if err := hc.StopBackupJob(context.Background()); err != nil {
			tracelog.WarningLogger.Printf("backup: cleanup stop backup job failed: %v", err)
		}
	})

	if killOnlyFlag {
		return hc.StopBackupJob(ctx)
	}

	disks, err := hc.ListDisks(ctx)
	if err != nil {
		return err
	}
	disks = filterDisks(disks, includeFlag, excludeFlag)
	if len(disks) == 0 {
		return fmt.Errorf("backup: no disks selected for domain %s", domainFlag)
	}

	chain, err := checkpoint.Load(target, domainFlag)
	if err != nil {
		return err
	}

	checkpointName, parent, err := hostcontrol.PrepareCheckpoint(ctx, hc, chain, level, true)
	if err != nil {
		return err
	}

	if printOnlyFlag {
		printPlan(domainFlag, level, checkpointName, parent, disks)
		return nil
	}

	if err := hc.StartBackupJob(ctx, disks, socketFileFlag); err != nil {
		return err
	}
	if startOnlyFlag {
		return nil
	}
	defer func() {
		if err := hc.StopBackupJob(context.Background()); err != nil {
			tracelog.WarningLogger.Printf("backup: stop backup job failed: %v", err)
		}
	}()

	jobs, closeJobs, err := dialDisks(ctx, disks, socketFileFlag, checkpointName, parent)
	if err != nil {
		return err
	}
	defer closeJobs()

	backup.ResetWarningCount()
	opts := backup.Options{
		Level:             level,
		Raw:               raw,
		Compress:          compressFlag,
		CompressionMethod: config.GetString(config.CompressionMethodSetting),
		Worker:            worker,
		Strict:            strictFlag,
		Online:            true,
		RateLimit:         config.GetInt(config.RateLimitSetting),
	}

	if err := backup.Run(ctx, target, jobs, opts); err != nil {
		return err
	}

	if err := dumpHostArtifacts(ctx, hc, target, checkpointName); err != nil {
		tracelog.WarningLogger.Printf("backup: dump host artifacts failed: %v", err)
	}

	if strictFlag && backup.WarningCount() > 0 {
		os.Exit(2)
	}
	return nil
}

func resolveTarget(output string, worker int, raw bool) (backupset.Target, int, error) {
	if output == "-" {
		if raw {
			return nil, 0, fmt.Errorf("backup: --raw is not supported with --output -")
		}
		if worker > 1 {
			return nil, 0, fmt.Errorf("backup: --worker > 1 is not supported with --output -")
		}
		return backupset.NewStreamTarget(os.Stdout), 1, nil
	}
	target, err := backupset.NewLocalTarget(output)
	return target, worker, err
}

func filterDisks(disks []hostcontrol.Disk, include, exclude []string) []hostcontrol.Disk {
	if len(include) == 0 && len(exclude) == 0 {
		return disks
	}
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	var out []hostcontrol.Disk
	for _, d := range disks {
		if len(includeSet) > 0 && !includeSet[d.Target] {
			continue
		}
		if excludeSet[d.Target] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func dialDisks(
	ctx context.Context,
	disks []hostcontrol.Disk,
	socketFile, checkpointName string,
	parent *string,
) ([]backup.DiskJob, func(), error) {
	jobs := make([]backup.DiskJob, 0, len(disks))
	clients := make([]*nbd.Client, 0, len(disks))

	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	metaContexts := []string{"base:allocation"}
	if parent != nil {
		metaContexts = append(metaContexts, "qemu:dirty-bitmap:"+*parent)
	}

	for _, disk := range disks {
		client, err := nbd.Dial(ctx, "unix", socketFile, disk.Target, metaContexts)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clients = append(clients, client)
		jobs = append(jobs, backup.DiskJob{
			Disk:             disk,
			Device:           client,
			CheckpointName:   checkpointName,
			ParentCheckpoint: parent,
		})
	}
	return jobs, closeAll, nil
}

func dumpHostArtifacts(ctx context.Context, hc hostcontrol.HostControl, target backupset.Target, checkpointName string) error {
	domainXML, err := hc.DumpDomainXML(ctx)
	if err != nil {
		return err
	}
	if err := writeFile(target, backupset.VMConfigFileName(checkpointName), domainXML); err != nil {
		return err
	}

	checkpointXML, err := hc.DumpCheckpointXML(ctx, checkpointName)
	if err != nil {
		return err
	}
	return writeFile(target, backupset.CheckpointXMLName(checkpointName), checkpointXML)
}

func writeFile(target backupset.Target, name string, data []byte) error {
	w, err := target.OpenWriteOnlyFile(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func printPlan(domain string, level backupset.Level, checkpointName string, parent *string, disks []hostcontrol.Disk) {
	parentName := "-"
	if parent != nil {
		parentName = *parent
	}
	targets := make([]string, 0, len(disks))
	for _, d := range disks {
		targets = append(targets, d.Target)
	}
	fmt.Printf("domain=%s level=%s checkpoint=%s parent=%s disks=%s\n",
		domain, level, checkpointName, parentName, strings.Join(targets, ","))
}
