package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solarpi/internal/acquire"
	"solarpi/internal/bluetooth"
	"solarpi/internal/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby devices",
	Long: `Run one discovery pass and list nearby BLE devices, highlighting the
ones that would be claimed as the battery monitor or solar charger.

Useful for finding device addresses to pin in the config file.`,
	RunE: runScanOnce,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
}

func runScanOnce(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg := config.Load(configPath(cmd), logger)

	transport, err := bluetooth.TransportFactory(logger)
	if err != nil {
		return fmt.Errorf("failed to open adapter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seen := make(map[string]bluetooth.Advertisement)
	err = transport.Scan(ctx, scanDuration, false, func(adv bluetooth.Advertisement) {
		seen[adv.Addr()] = adv
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(seen) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	advs := make([]bluetooth.Advertisement, 0, len(seen))
	for _, adv := range seen {
		advs = append(advs, adv)
	}
	sort.Slice(advs, func(i, j int) bool { return advs[i].RSSI() > advs[j].RSSI() })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tSERVICES\tROLE")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, adv := range advs {
		services := strings.Join(adv.Services(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			adv.Addr(), adv.LocalName(), adv.RSSI(), services, roleLabel(cfg, adv))
	}
	return w.Flush()
}

// roleLabel names the role this advertisement would be claimed for, colored
// so the interesting rows stand out in a crowded neighborhood.
func roleLabel(cfg *config.Config, adv bluetooth.Advertisement) string {
	role, ok := acquire.MatchRole(cfg, adv)
	if !ok {
		return ""
	}
	if role == acquire.RoleBatteryMonitor {
		return color.GreenString("battery monitor")
	}
	return color.YellowString("solar charger")
}
