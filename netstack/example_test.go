package netstack_test

import (
	"context"
	"fmt"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/devio"
	"github.com/vela-net/tapstack/netstack"
)

// This mirrors the worked example from the original implementation this
// package is based on: a UDP echo server and client talking over the
// stack's loopback path, where both endpoints are bound to the same local
// address and the link egress worker reinjects every frame between them
// without ever touching the device.
func Example() {
	dev := devio.NewFake()
	stack := netstack.New(netstack.Config{
		Device:        dev,
		MTU:           1500,
		LocalHW:       tapstack.HwAddr{0x02, 0, 0, 0, 0, 1},
		LocalAddr:     tapstack.ProtocolAddr{10, 0, 0, 1},
		MaxARPRetries: 3,
		DefaultTTL:    50,
	})
	stack.Start(context.Background())
	defer stack.Close(context.Background())

	server, err := stack.Bind("10.0.0.1:7")
	if err != nil {
		fmt.Println("bind server:", err)
		return
	}
	client, err := stack.Bind("10.0.0.1:7000")
	if err != nil {
		fmt.Println("bind client:", err)
		return
	}
	if err := client.Connect("10.0.0.1:7"); err != nil {
		fmt.Println("connect:", err)
		return
	}

	if _, err := client.Send([]byte("echo me")); err != nil {
		fmt.Println("send:", err)
		return
	}

	buf := make([]byte, 64)
	n, src, err := server.RecvFrom(buf)
	if err != nil {
		fmt.Println("recv:", err)
		return
	}
	if _, err := server.SendTo(buf[:n], src); err != nil {
		fmt.Println("reply:", err)
		return
	}

	n, _, err = client.RecvFrom(buf)
	if err != nil {
		fmt.Println("recv reply:", err)
		return
	}
	fmt.Println(string(buf[:n]))
	// Output: echo me
}
