package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type gpu struct {
	Name   string `json:"name"`
	VRAMMB int64  `json:"vram_mb"`
}

type hardwareDescriptor struct {
	CPU    string `json:"cpu"`
	RAMMB  int64  `json:"ram_mb"`
	DiskMB int64  `json:"disk_mb"`
	GPUs   []gpu  `json:"gpus"`
}

type modelDescriptor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Architecture   string `json:"architecture"`
	ParameterCount string `json:"parameter_count"`
	Quantization   string `json:"quantization"`
	ContextLength  int64  `json:"context_length"`
}

type nodeOnlineEntry struct {
	NodeID             string             `json:"node_id"`
	Name               string             `json:"name"`
	Hardware           hardwareDescriptor `json:"hardware"`
	PricePerMinuteSats int64              `json:"price_per_minute_sats"`
	Models             []modelDescriptor  `json:"models"`
	Status             string             `json:"status"`
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List nodes currently online",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp []nodeOnlineEntry
		if err := c.do("GET", "/api/nodes/online", nil, &resp); err != nil {
			return err
		}
		if len(resp) == 0 {
			fmt.Println("no nodes online")
			return nil
		}
		for _, n := range resp {
			fmt.Printf("%-36s %-20s %-8s %6d sats/min  models=%d\n", n.NodeID, n.Name, n.Status, n.PricePerMinuteSats, len(n.Models))
		}
		return nil
	},
}

type registerNodeRequest struct {
	Name               string             `json:"name"`
	Endpoint           string             `json:"endpoint"`
	Hardware           hardwareDescriptor `json:"hardware"`
	PricePerMinuteSats int64              `json:"price_per_minute_sats"`
	Models             []modelDescriptor  `json:"models"`
}

type registerNodeResponse struct {
	NodeID          string `json:"node_id"`
	RegistrationFee int64  `json:"registration_fee"`
}

var (
	nodeName       string
	nodeEndpoint   string
	nodePricePerMin int64
	nodeModelsFile string
	nodeHardwareFile string
)

var registerNodeCmd = &cobra.Command{
	Use:   "register-node",
	Short: "Register a compute node with the marketplace",
	Long: `Register a compute node. --models and --hardware each point to a
JSON file holding the matching request field (a models array, a single
hardware object) since both are too structured for flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := registerNodeRequest{
			Name:               nodeName,
			Endpoint:           nodeEndpoint,
			PricePerMinuteSats: nodePricePerMin,
		}
		if nodeModelsFile != "" {
			data, err := os.ReadFile(nodeModelsFile)
			if err != nil {
				return fmt.Errorf("failed to read models file: %w", err)
			}
			if err := json.Unmarshal(data, &req.Models); err != nil {
				return fmt.Errorf("failed to parse models file: %w", err)
			}
		}
		if nodeHardwareFile != "" {
			data, err := os.ReadFile(nodeHardwareFile)
			if err != nil {
				return fmt.Errorf("failed to read hardware file: %w", err)
			}
			if err := json.Unmarshal(data, &req.Hardware); err != nil {
				return fmt.Errorf("failed to parse hardware file: %w", err)
			}
		}

		c := newAPIClient(coordinatorURL)
		var resp registerNodeResponse
		if err := c.do("POST", "/api/register_node", req, &resp); err != nil {
			return err
		}
		fmt.Printf("node_id: %s  registration_fee: %d sats\n", resp.NodeID, resp.RegistrationFee)
		return nil
	},
}

func init() {
	registerNodeCmd.Flags().StringVar(&nodeName, "name", "", "node display name")
	registerNodeCmd.Flags().StringVar(&nodeEndpoint, "endpoint", "", "node's reachable RPC endpoint")
	registerNodeCmd.Flags().Int64Var(&nodePricePerMin, "price-per-minute", 0, "price in sats per minute")
	registerNodeCmd.Flags().StringVar(&nodeModelsFile, "models", "", "path to a JSON file with the models array")
	registerNodeCmd.Flags().StringVar(&nodeHardwareFile, "hardware", "", "path to a JSON file with the hardware object")
	registerNodeCmd.MarkFlagRequired("name")
	registerNodeCmd.MarkFlagRequired("endpoint")
	registerNodeCmd.MarkFlagRequired("price-per-minute")
}
