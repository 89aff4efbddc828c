package main

import (
	"fmt"
	"os"

	"shelter-engine/pkg/config"
	"shelter-engine/pkg/mapping"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file> [mapping-file]")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Version: %s\n", cfg.Version)
	fmt.Printf("   Transport: %s (%s)\n", cfg.Transport.Mode, config.NewTransportSettings(cfg).Endpoint)
	fmt.Printf("   Storage: %s %s\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("   Polling: enabled=%v every %d ms\n", cfg.PollingEnabled(), cfg.Polling.Interval)
	if cfg.Broadcast.MQTT {
		fmt.Printf("   MQTT Broker: %s:%d (prefix %s)\n", cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.TopicPrefix)
	}

	mappingPath := cfg.Mapping.File
	if len(os.Args) > 2 {
		mappingPath = os.Args[2]
	}
	fmt.Printf("\n📄 Loading mapping from: %s\n", mappingPath)

	table, err := mapping.LoadTable(mappingPath, config.ValidateFormula)
	if err != nil {
		fmt.Printf("❌ Error loading mapping: %v\n", err)
		os.Exit(1)
	}

	for siteID, site := range table.Sites {
		fmt.Printf("   Site '%s' (%s):\n", siteID, site.Name)
		for typeName, dt := range site.DeviceTypes {
			fmt.Printf("     - %s: protocol=%s fields=%d commands=%d units=%d\n",
				typeName, dt.Protocol, len(dt.Fields), len(dt.Commands), len(dt.Units))
		}
	}
	fmt.Printf("   Units: %d\n", len(table.Units()))

	fmt.Println("\n✅ Configuration is valid!")
}
