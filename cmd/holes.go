package cmd

import (
	"fmt"

	"grimm.is/warden/internal/firewall"
)

// RunPunch opens an inbound port through the daemon.
func RunPunch(socketPath, protocol string, port uint16, iface string) error {
	if err := NewClient(socketPath).Punch(protocol, port, iface); err != nil {
		return err
	}
	fmt.Printf("Punched %s hole: %s\n", protocol, holeLabel(port, iface))
	return nil
}

// RunPlug closes a previously opened port through the daemon.
func RunPlug(socketPath, protocol string, port uint16, iface string) error {
	if err := NewClient(socketPath).Plug(protocol, port, iface); err != nil {
		return err
	}
	fmt.Printf("Plugged %s hole: %s\n", protocol, holeLabel(port, iface))
	return nil
}

// RunHoles lists the currently open holes.
func RunHoles(socketPath string) error {
	holes, err := NewClient(socketPath).Holes()
	if err != nil {
		return err
	}
	if len(holes.TCP) == 0 && len(holes.UDP) == 0 {
		fmt.Println("No open holes.")
		return nil
	}
	printHoles("tcp", holes.TCP)
	printHoles("udp", holes.UDP)
	return nil
}

func printHoles(protocol string, holes []firewall.Hole) {
	for _, h := range holes {
		fmt.Printf("  %-4s %s\n", protocol, holeLabel(h.Port, h.Interface))
	}
}

func holeLabel(port uint16, iface string) string {
	if iface == "" {
		return fmt.Sprintf("port %d (all interfaces)", port)
	}
	return fmt.Sprintf("port %d on %s", port, iface)
}
