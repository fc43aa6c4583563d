// Command deprec prints depreciation schedules and projections for assets
// defined in a YAML or JSON fixture file.
//
//	deprec schedule -f assets.yaml -a laptop-1 --as-of 2025-06-30
//	deprec project  -f assets.yaml -a laptop-1 --start 2025-06-30 -n 24 -o csv
//	deprec validate -f assets.yaml
package main

import "github.com/warp/depreciation-engine/cli"

func main() {
	cli.Execute()
}
