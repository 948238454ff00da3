package main

import (
	"context"
	"fmt"
)

func runModulesList(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dep, err := build(cfg)
	if err != nil {
		return err
	}

	recs, err := dep.moduleSt.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no modules installed")
		return nil
	}
	for _, rec := range recs {
		state := "disabled"
		if rec.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-20s %-10s %s\n", rec.Name, rec.Version, state)
	}
	return nil
}

func runModulesSetEnabled(ctx context.Context, configPath, name string, enabled bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dep, err := build(cfg)
	if err != nil {
		return err
	}

	if enabled {
		return dep.modules.Enable(ctx, name)
	}
	return dep.modules.Disable(ctx, name)
}
