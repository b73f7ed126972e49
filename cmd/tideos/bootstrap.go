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

const bootstrapCacheSize = 256

func newBootstrapCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Execute a YAML mount plan",
		Long: `Read a bootstrap document describing devices and mounts, assemble the
devices, mount every filesystem parent-before-child, and create the default
namespace directories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("read config %s: %w", configFile, err)
			}
			return runBootstrap(data)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "tideos.yaml", "bootstrap document")
	return cmd
}

func runBootstrap(data []byte) error {
	level, err := vfs.LogLevelFromString(logLevel)
	if err != nil {
		return err
	}
	logger := vfs.NewLogger(os.Stderr, level)

	config, err := vfs.ParseConfig(data)
	if err != nil {
		return err
	}

	scheduler := task.NewRegistry()
	authority := users.NewStore()
	registry := device.NewRegistry()
	router := vfs.NewRouter(scheduler, authority, vfs.WithLogger(logger))

	entries := make(map[string]*device.Entry, len(config.Devices))
	for _, d := range config.Devices {
		mem, err := device.NewMemoryDevice(d.Size, d.BlockSize)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		entries[d.Name] = device.NewEntry(mem, uint32(users.Root), uint32(users.RootGroup), 0o644)
	}

	mounts, err := config.MountOrder()
	if err != nil {
		return err
	}
	for _, m := range mounts {
		var backend vfs.FileSystem
		switch m.Backend {
		case "memory":
			backend = memfs.New(authority)
		case "flash":
			entry := entries[m.Device]
			if m.Format {
				if err := flashfs.Format(entry, registry, bootstrapCacheSize); err != nil {
					return fmt.Errorf("format %s: %w", m.Device, err)
				}
			}
			backend, err = flashfs.New(entry, registry, authority, logger, bootstrapCacheSize)
			if err != nil {
				return fmt.Errorf("mount %s: %w", m.Device, err)
			}
		}

		id, err := router.Mount(vfs.Path(m.Path), backend)
		if err != nil {
			return fmt.Errorf("mount %s: %w", m.Path, err)
		}
		fmt.Printf("mounted %s (%s) as filesystem %d\n", m.Path, m.Backend, id)
	}

	if err := router.Bootstrap(task.Kernel); err != nil {
		return err
	}
	fmt.Println("namespace ready")
	return nil
}
