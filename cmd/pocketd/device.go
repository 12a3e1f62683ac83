package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/models"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show device telemetry",
	RunE:  runDevice,
}

func runDevice(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/device")
	if err != nil {
		return err
	}

	var info models.DeviceInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Screen:\t%s\n", onOff(info.ScreenOn))
	fmt.Fprintf(w, "Keyguard:\t%s\n", yesNo(info.KeyguardShowing))
	fmt.Fprintf(w, "Battery:\t%d%% %s\n", info.BatteryLevel, info.BatteryStatus)
	if info.Plugged != "" {
		fmt.Fprintf(w, "Plugged:\t%s\n", info.Plugged)
	}
	if info.WiFi != "" {
		fmt.Fprintf(w, "WiFi:\t%s\n", info.WiFi)
	}
	if info.Display != "" {
		fmt.Fprintf(w, "Display:\t%s\n", info.Display)
	}
	if info.Foreground != "" {
		fmt.Fprintf(w, "Foreground:\t%s\n", info.Foreground)
	}
	return w.Flush()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
