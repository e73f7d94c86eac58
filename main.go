package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.GetConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
		foreground := startFlags.Bool("foreground", false, "Run in foreground (don't daemonize)")
		startFlags.BoolVar(foreground, "f", false, "Run in foreground (short)")
		startFlags.Parse(os.Args[2:])

		if *foreground {
			fatalOn("Start", cmd.RunDaemon(*configFile))
		} else {
			fatalOn("Start", cmd.RunStart(*configFile))
		}

	case "daemon":
		// Internal: the detached process "start" spawns.
		daemonFlags := flag.NewFlagSet("daemon", flag.ExitOnError)
		configFile := daemonFlags.String("config", brand.GetConfigPath(), "Configuration file")
		daemonFlags.Parse(os.Args[2:])
		fatalOn("Daemon", cmd.RunDaemon(*configFile))

	case "stop":
		fatalOn("Stop", cmd.RunStop())

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		socket := statusFlags.String("socket", "", "Control socket path")
		statusFlags.Parse(os.Args[2:])
		fatalOn("Status", cmd.RunStatus(*socket))

	case "punch", "plug":
		op := os.Args[1]
		holeFlags := flag.NewFlagSet(op, flag.ExitOnError)
		protocol := holeFlags.String("proto", "tcp", "Protocol (tcp or udp)")
		port := holeFlags.Uint("port", 0, "Port number")
		iface := holeFlags.String("iface", "", "Interface name (empty for all)")
		socket := holeFlags.String("socket", "", "Control socket path")
		holeFlags.Parse(os.Args[2:])

		if *port > 65535 {
			fmt.Fprintf(os.Stderr, "Error: port out of range\n")
			os.Exit(1)
		}
		if op == "punch" {
			fatalOn("Punch", cmd.RunPunch(*socket, *protocol, uint16(*port), *iface))
		} else {
			fatalOn("Plug", cmd.RunPlug(*socket, *protocol, uint16(*port), *iface))
		}

	case "holes":
		holesFlags := flag.NewFlagSet("holes", flag.ExitOnError)
		socket := holesFlags.String("socket", "", "Control socket path")
		holesFlags.Parse(os.Args[2:])
		fatalOn("Holes", cmd.RunHoles(*socket))

	case "vpn":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: %s vpn setup|teardown [flags]\n", brand.BinaryName)
			os.Exit(1)
		}
		sub := os.Args[2]
		vpnFlags := flag.NewFlagSet("vpn "+sub, flag.ExitOnError)
		iface := vpnFlags.String("iface", "", "VPN interface name")
		users := vpnFlags.String("users", "", "Comma-separated usernames to route")
		socket := vpnFlags.String("socket", "", "Control socket path")
		vpnFlags.Parse(os.Args[3:])

		var usernames []string
		if *users != "" {
			usernames = strings.Split(*users, ",")
		}
		switch sub {
		case "setup":
			fatalOn("VPN setup", cmd.RunVpnSetup(*socket, usernames, *iface))
		case "teardown":
			fatalOn("VPN teardown", cmd.RunVpnTeardown(*socket, usernames, *iface))
		default:
			fmt.Fprintf(os.Stderr, "Unknown vpn command: %s\n", sub)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s %s (built %s, commit %s)\n",
			brand.Name, brand.Version, brand.BuildTime, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fatalOn(action string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage: %s <command> [flags]

Daemon:
  start        Start the daemon (use -f to stay in foreground)
  stop         Stop the daemon
  status       Show daemon status

Holes:
  punch        Open an inbound port     (-proto tcp -port 8080 [-iface eth0])
  plug         Close an opened port     (-proto tcp -port 8080 [-iface eth0])
  holes        List open holes

VPN:
  vpn setup    Install VPN routing      (-iface tun0 -users alice,bob)
  vpn teardown Remove VPN routing       (-iface tun0 -users alice,bob)

Other:
  version      Show version information
  help         Show this help
`, brand.Name, brand.Description, brand.BinaryName)
}
