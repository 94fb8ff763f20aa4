// xclinfo lists the compute platforms and devices, builds kernel programs printing their diagnostics, and runs a
// demo pipeline on a device.
//
// Usage:
//
//	xclinfo platforms
//	xclinfo devices [--platform=soft]
//	xclinfo build kernels.cl [--options="-DFOO=1"] [--emit-binary=kernels.bin]
//	xclinfo run [--queues=4] [--frames=64] [--size=1048576]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xcamgo/gocl/cl"
	_ "github.com/xcamgo/gocl/cl/soft"
	"k8s.io/klog/v2"
)

var flagPlatform string

func main() {
	klog.InitFlags(nil)
	rootCmd := &cobra.Command{
		Use:           "xclinfo",
		Short:         "Inspect compute platforms and run kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&flagPlatform, "platform", "",
		fmt.Sprintf("platform to use, defaults to $%s or %q", cl.PlatformEnv, cl.DefaultPlatformName))
	rootCmd.AddCommand(platformsCmd(), devicesCmd(), buildCmd(), runCmd())
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("%+v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getPlatform returns the platform selected with --platform, or the default one.
func getPlatform() (*cl.Platform, error) {
	if flagPlatform == "" {
		return cl.DefaultPlatform()
	}
	return cl.GetPlatform(flagPlatform)
}

// newContext creates a context on the default device of the selected platform. Asynchronous errors are printed to
// stderr.
func newContext(options ...cl.ContextOption) (*cl.Context, error) {
	platform, err := getPlatform()
	if err != nil {
		return nil, err
	}
	device, err := platform.DefaultDevice()
	if err != nil {
		return nil, err
	}
	sink := cl.ErrorSinkFunc(func(report cl.ErrorReport) {
		fmt.Fprintf(os.Stderr, "%s\n", report)
	})
	return cl.NewContext(device, append([]cl.ContextOption{cl.WithErrorSink(sink)}, options...)...)
}
