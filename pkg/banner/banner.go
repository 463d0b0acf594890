package banner

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██║╚██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║ ╚████║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║  ╚███║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝   ╚══╝ ╚═════╝
`

// PrintWithEff prints the startup banner with the effective config and
// current cache footprint.
func PrintWithEff(eff config.EffectiveConfigResult, version string, cacheBytes uint64) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Ops listen: %s\n", eff.Addr)
	fmt.Printf("Cache:      %s (%s)\n", eff.CachePath, humanize.Bytes(cacheBytes))
	if version != "" {
		fmt.Printf("Version:    %s\n", version)
	}
	fmt.Printf("Config:     %s\n", eff.Source)

	if eff.Config != nil {
		if eff.Config.API.BaseURL != "" {
			fmt.Printf("REST API:   %s\n", eff.Config.API.BaseURL)
		} else {
			fmt.Println("REST API:   not configured (cache-only mode)")
		}
		if eff.Config.Realtime.URL != "" {
			fmt.Printf("Realtime:   %s\n", eff.Config.Realtime.URL)
		} else {
			fmt.Println("Realtime:   not configured (no live updates)")
		}
		if eff.Config.Sync.RefetchCron != "" {
			fmt.Printf("Refetch:    cron=%s\n", eff.Config.Sync.RefetchCron)
		} else {
			fmt.Println("Refetch:    disabled")
		}
	}

	fmt.Println("\n== Ops endpoints ==============================================")
	fmt.Println("GET /healthz | /readyz | /metrics")
	fmt.Println("GET /v1/conversations                      - cached conversations")
	fmt.Println("GET /v1/conversations/{key}/messages       - local reconciled view")
	fmt.Println("\n== Logs =======================================================")
}
