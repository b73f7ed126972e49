package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tideos/pkg/device"
	"tideos/pkg/task"
	"tideos/pkg/users"
	"tideos/pkg/vfs"
	"tideos/pkg/vfs/flashfs"
	"tideos/pkg/vfs/memfs"
)

const (
	demoFlashSize  = 512 * 1024
	demoBlockSize  = 256
	demoCacheSize  = 256
	demoPipeBuffer = 64
)

func newDemoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in storage scenario",
		Long: `Assemble a memory-backed flash device, format it, mount it next to an
in-memory root filesystem, and drive files, directories, pipes and a raw
device through the router.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	level, err := vfs.LogLevelFromString(logLevel)
	if err != nil {
		return err
	}
	logger := vfs.NewLogger(os.Stderr, level)

	scheduler := task.NewRegistry()
	authority := users.NewStore()
	registry := device.NewRegistry()

	// 512 KiB of simulated flash in 256-byte blocks.
	flash, err := device.NewMemoryDevice(demoFlashSize, demoBlockSize)
	if err != nil {
		return err
	}
	entry := device.NewEntry(flash, uint32(users.Root), uint32(users.RootGroup), 0o644)

	if err := flashfs.Format(entry, registry, demoCacheSize); err != nil {
		return fmt.Errorf("format flash: %w", err)
	}
	ffs, err := flashfs.New(entry, registry, authority, logger, demoCacheSize)
	if err != nil {
		return fmt.Errorf("mount flash: %w", err)
	}

	router := vfs.NewRouter(scheduler, authority, vfs.WithLogger(logger))
	if _, err := router.Mount("/", memfs.New(authority)); err != nil {
		return err
	}
	if _, err := router.Mount("/Data", ffs); err != nil {
		return err
	}
	if err := router.Bootstrap(task.Kernel); err != nil {
		return err
	}

	// A raw device special file alongside the mounted filesystems.
	scratch, err := device.NewMemoryDevice(demoBlockSize, demoBlockSize)
	if err != nil {
		return err
	}
	scratchEntry := device.NewEntry(scratch, uint32(users.Root), uint32(users.RootGroup), 0o644)
	if err := router.MountStaticDevice(task.Kernel, "/Devices/scratch0", scratchEntry); err != nil {
		return err
	}

	if err := demoFiles(router); err != nil {
		return err
	}
	if err := demoPipe(router); err != nil {
		return err
	}
	if err := demoDevice(router); err != nil {
		return err
	}

	fmt.Println("demo complete")
	return router.Unmount("/Data")
}

func demoFiles(router *vfs.Router) error {
	const path = vfs.Path("/Data/hello.txt")
	message := []byte("hello from the flash backend\n")

	if err := router.WriteFile(path, message, task.Kernel); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	data, err := router.ReadFile(path, task.Kernel)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	fmt.Printf("%s: %q\n", path, data)

	dir, err := router.OpenDirectory("/Data", task.Kernel)
	if err != nil {
		return err
	}
	defer router.Close(dir, task.Kernel)
	for {
		entry, err := router.ReadDirectory(dir, task.Kernel)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		fmt.Printf("/Data: %s (%s, %d bytes)\n", entry.Name, entry.Kind, entry.Size)
	}
}

func demoPipe(router *vfs.Router) error {
	read, write, err := router.CreateUnnamedPipe(task.Kernel, demoPipeBuffer)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, err := router.Write(write, []byte("through the pipe"), task.Kernel)
		if err == nil {
			err = router.Close(write, task.Kernel)
		}
		done <- err
	}()

	buffer := make([]byte, demoPipeBuffer)
	n, err := router.Read(read, buffer, task.Kernel)
	if err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}
	fmt.Printf("pipe: %q\n", buffer[:n])
	return router.Close(read, task.Kernel)
}

func demoDevice(router *vfs.Router) error {
	file, err := router.Open("/Devices/scratch0", vfs.ReadWrite, task.Kernel)
	if err != nil {
		return err
	}
	defer router.Close(file, task.Kernel)

	if _, err := router.Write(file, []byte{0xDE, 0xAD, 0xBE, 0xEF}, task.Kernel); err != nil {
		return err
	}
	if _, err := router.SetPosition(file, vfs.PositionFromStart(0), task.Kernel); err != nil {
		return err
	}
	buffer := make([]byte, 4)
	if _, err := router.Read(file, buffer, task.Kernel); err != nil {
		return err
	}
	fmt.Printf("/Devices/scratch0: % x\n", buffer)
	return nil
}
