// Command raftctl is a thin client over one raftd's AdminService, folding
// the teacher's cmd/raft/manual_client (submit a command, read back
// success/leader-hint) and cmd/raft/membership-demo (add/remove a server)
// into subcommands of one binary instead of two demo mains plus an
// orchestration script.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/transport/raftrpc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "submit":
		runSubmit(args)
	case "add-server":
		runMembership(args, true)
	case "remove-server":
		runMembership(args, false)
	case "status":
		runStatus(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: raftctl <submit|add-server|remove-server|status> [flags]")
}

func dial(addr string) *grpc.ClientConn {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", addr, err)
	}
	return conn
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", "localhost:50051", "server address to submit to")
	command := fs.String("cmd", "", "command to submit, e.g. 'SET key=value'")
	fs.Parse(args)

	if *command == "" {
		log.Fatal("-cmd is required")
	}

	conn := dial(*server)
	defer conn.Close()
	client := raftrpc.NewAdminServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.ClientCommand(ctx, &raftrpc.ClientCommandRequest{Command: []byte(*command)})
	if err != nil {
		log.Fatalf("ClientCommand RPC failed: %v", err)
	}
	if resp.Success {
		fmt.Printf("committed at index %d (term %d)\n", resp.Index, resp.Term)
		return
	}
	fmt.Printf("rejected: %s\n", resp.Error)
	if resp.LeaderHint != "" {
		fmt.Printf("leader hint: %s\n", resp.LeaderHint)
	}
	os.Exit(1)
}

func runMembership(args []string, add bool) {
	name := "remove-server"
	if add {
		name = "add-server"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	server := fs.String("server", "localhost:50051", "server address to contact (must be the leader)")
	targetID := fs.String("target-id", "", "id of the server to add/remove")
	targetAddr := fs.String("target-addr", "", "address of the server to add (ignored for remove-server)")
	fs.Parse(args)

	if *targetID == "" {
		log.Fatal("-target-id is required")
	}
	if add && *targetAddr == "" {
		log.Fatal("-target-addr is required for add-server")
	}

	conn := dial(*server)
	defer conn.Close()
	client := raftrpc.NewAdminServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := &raftrpc.MembershipRequest{ServerID: raft.ServerID(*targetID), Address: raft.ServerAddress(*targetAddr)}
	var resp *raftrpc.MembershipResponse
	var err error
	if add {
		resp, err = client.AddServer(ctx, req)
	} else {
		resp, err = client.RemoveServer(ctx, req)
	}
	if err != nil {
		log.Fatalf("%s RPC failed: %v", name, err)
	}
	if !resp.Success {
		fmt.Printf("failed: %s\n", resp.Error)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", "localhost:50051", "server address to query")
	fs.Parse(args)

	conn := dial(*server)
	defer conn.Close()
	client := raftrpc.NewAdminServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Status(ctx, &raftrpc.StatusRequest{})
	if err != nil {
		log.Fatalf("Status RPC failed: %v", err)
	}
	fmt.Printf("id:           %s\n", resp.ID)
	fmt.Printf("role:         %s\n", resp.Role)
	fmt.Printf("term:         %d\n", resp.Term)
	fmt.Printf("leader hint:  %s\n", resp.LeaderHint)
	fmt.Printf("commit index: %d\n", resp.CommitIndex)
	fmt.Printf("last applied: %d\n", resp.LastApplied)
	fmt.Printf("members:      %v\n", resp.Configuration.Current)
}
