package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/xcamgo/gocl/cl"
)

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func platformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the available platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := newTable("NAME", "VERSION", "DEVICES", "PATH")
			for _, name := range cl.AvailablePlatforms() {
				platform, err := cl.GetPlatform(name)
				if err != nil {
					table.Append([]string{name, "-", "-", err.Error()})
					continue
				}
				major, minor := platform.Version()
				devices, err := platform.Devices()
				numDevices := strconv.Itoa(len(devices))
				if err != nil {
					numDevices = "error"
				}
				table.Append([]string{name, fmt.Sprintf("%d.%d", major, minor), numDevices, platform.Path()})
			}
			table.Render()
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	var showAttributes bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the devices of the platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := getPlatform()
			if err != nil {
				return err
			}
			devices, err := platform.Devices()
			if err != nil {
				return err
			}
			fmt.Printf("%s\n\n", platform)
			table := newTable("ID", "NAME", "TYPE", "COMPUTE UNITS", "MEMORY", "IMAGES", "OPENCL C")
			for _, device := range devices {
				info := device.Info()
				table.Append([]string{
					strconv.Itoa(int(info.ID)), info.Name, info.Type.String(), strconv.Itoa(info.ComputeUnits),
					humanBytes(info.GlobalMemSize), strconv.FormatBool(info.ImageSupport), info.OpenCLCVersion,
				})
			}
			table.Render()
			if showAttributes {
				attributes := platform.Attributes()
				fmt.Println()
				table = newTable("ATTRIBUTE", "VALUE")
				keys := make([]string, 0, len(attributes))
				for key := range attributes {
					keys = append(keys, key)
				}
				slices.Sort(keys)
				for _, key := range keys {
					table.Append([]string{key, fmt.Sprintf("%v", attributes[key])})
				}
				table.Render()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAttributes, "attributes", false, "also list the platform attributes")
	return cmd
}

// humanBytes formats a size in bytes using binary units.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
