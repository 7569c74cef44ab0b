// zakros-cli is a small operator console: it speaks RESP to any node and
// renders cluster topology and server info as tables.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liushuochen/gotable"

	"github.com/mosmeh/zakros/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "address of any cluster node")
	timeout := flag.Duration("timeout", 3*time.Second, "dial timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: zakros-cli [-addr host:port] cluster|info|ping")
		os.Exit(2)
	}

	cli, err := client.Dial(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zakros-cli: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	switch flag.Arg(0) {
	case "cluster":
		err = showCluster(cli)
	case "info":
		err = showInfo(cli)
	case "ping":
		err = ping(cli)
	default:
		fmt.Fprintf(os.Stderr, "zakros-cli: unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "zakros-cli: %v\n", err)
		os.Exit(1)
	}
}

func ping(cli *client.Client) error {
	reply, err := cli.Do("PING")
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func showCluster(cli *client.Client) error {
	reply, err := cli.Do("CLUSTER", "SLOTS")
	if err != nil {
		return err
	}
	if e, ok := reply.(client.Error); ok {
		return e
	}
	slots, ok := reply.([]client.Reply)
	if !ok {
		return fmt.Errorf("unexpected CLUSTER SLOTS reply %T", reply)
	}

	table, err := gotable.Create("Slots", "Addr", "NodeId", "Role")
	if err != nil {
		return err
	}
	for _, slot := range slots {
		entry, ok := slot.([]client.Reply)
		if !ok || len(entry) < 3 {
			continue
		}
		slotRange := fmt.Sprintf("%d-%d", entry[0], entry[1])
		for i, node := range entry[2:] {
			fields, ok := node.([]client.Reply)
			if !ok || len(fields) < 3 {
				continue
			}
			role := "replica"
			if i == 0 {
				role = "master"
			}
			_ = table.AddRow([]string{
				slotRange,
				fmt.Sprintf("%s:%d", fields[0], fields[1]),
				fmt.Sprintf("%s", fields[2]),
				role,
			})
		}
	}
	fmt.Print(table.String())
	return nil
}

func showInfo(cli *client.Client) error {
	reply, err := cli.Do("INFO")
	if err != nil {
		return err
	}
	text, ok := reply.([]byte)
	if !ok {
		return fmt.Errorf("unexpected INFO reply %T", reply)
	}

	table, err := gotable.Create("Field", "Value")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(text), "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		_ = table.AddRow([]string{field, value})
	}
	fmt.Print(table.String())
	return nil
}
