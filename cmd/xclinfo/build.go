package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xcamgo/gocl/cl"
)

func buildCmd() *cobra.Command {
	var (
		isBinary   bool
		options    string
		kernelName string
		emitBinary string
	)
	cmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Build a kernel program and print its kernels and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "reading program %q", args[0])
			}
			buildType := cl.BuildFromSource
			if isBinary {
				buildType = cl.BuildFromBinary
			}
			ctx, err := newContext()
			if err != nil {
				return err
			}
			defer func() {
				if err := ctx.Terminate(); err != nil {
					fmt.Fprintf(os.Stderr, "Error terminating context: %v\n", err)
				}
			}()

			names, err := ctx.ProgramKernelNames(program, buildType, options)
			if err != nil {
				return err
			}
			if kernelName != "" {
				names = []string{kernelName}
			}
			table := newTable("KERNEL", "ARGS", "PROGRAM")
			var kernels []*cl.Kernel
			for _, name := range names {
				cfg := ctx.CompileKernel(name).WithOptions(options)
				if isBinary {
					cfg = cfg.WithBinary(program)
				} else {
					cfg = cfg.WithSource(program)
				}
				kernel, err := cfg.Done()
				if err != nil {
					return err
				}
				kernels = append(kernels, kernel)
				table.Append([]string{name, strconv.Itoa(kernel.NumArgs()), fmt.Sprintf("#%d", kernel.ProgramID())})
			}
			fmt.Printf("%s: %s built with %d kernels\n\n", args[0], buildType, len(names))
			table.Render()

			if emitBinary != "" && len(kernels) > 0 {
				binary, err := kernels[0].ProgramBinary()
				if err != nil {
					return err
				}
				if err := os.WriteFile(emitBinary, binary, 0o644); err != nil {
					return errors.Wrapf(err, "writing program binary to %q", emitBinary)
				}
				fmt.Printf("\nProgram binary (%d bytes) written to %s\n", len(binary), emitBinary)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&isBinary, "binary", false, "FILE is a program binary, e.g. one written with --emit-binary")
	cmd.Flags().StringVar(&options, "options", "", "build options, e.g. \"-DWIDTH=64 -cl-fast-relaxed-math\"")
	cmd.Flags().StringVar(&kernelName, "kernel", "", "only create this kernel")
	cmd.Flags().StringVar(&emitBinary, "emit-binary", "", "write the program binary to this file")
	return cmd
}
