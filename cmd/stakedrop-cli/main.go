package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"stakedrop/crypto"
	"stakedrop/native/airdrop"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("STAKEDROP_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "merkle-root":
		requireArgs(args, 2, "Please provide an allocation CSV file.")
		merkleRoot(args[1])
	case "merkle-proof":
		requireArgs(args, 4, "Please provide a CSV file, a recipient address and an amount.")
		merkleProof(args[1], args[2], args[3])
	case "init":
		requireArgs(args, 6, "Please provide admin, root, start time, custody mode and a rewards JSON file.")
		initPool(args[1], args[2], args[3], args[4], args[5])
	case "claim":
		requireArgs(args, 5, "Please provide pool, recipient, amount and a proof JSON file.")
		claim(args[1], args[2], args[3], args[4])
	case "snapshot":
		requireArgs(args, 2, "Please provide a pool ID.")
		snapshot(args[1])
	case "unstake":
		requireArgs(args, 3, "Please provide a pool ID and an owner address.")
		unstake(args[1], args[2])
	case "preview":
		requireArgs(args, 3, "Please provide a pool ID and an owner address.")
		preview(args[1], args[2], args[3:])
	case "pause", "unpause", "terminate", "recover", "close":
		requireArgs(args, 3, "Please provide a pool ID and the admin address.")
		adminCall(command, args[1], args[2])
	case "get-pool":
		requireArgs(args, 2, "Please provide a pool ID.")
		query("airdrop_getPool", map[string]interface{}{"pool": args[1]})
	case "get-stake":
		requireArgs(args, 3, "Please provide a pool ID and an owner address.")
		query("airdrop_getStake", map[string]interface{}{"pool": args[1], "owner": args[2]})
	case "balance":
		requireArgs(args, 2, "Please provide an address.")
		query("stake_getBalance", map[string]interface{}{"address": args[1]})
	case "events":
		query("stake_getEvents", map[string]interface{}{})
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func requireArgs(args []string, n int, msg string) {
	if len(args) < n {
		fmt.Println("Error: " + msg)
		printUsage()
		os.Exit(1)
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Admin commands will refuse to run without it.")
}

// loadAllocations reads "address,amount" lines. Blank lines and lines starting
// with # are skipped.
func loadAllocations(path string) ([]airdrop.LeafEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open allocation file: %w", err)
	}
	defer file.Close()

	var entries []airdrop.LeafEntry
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected address,amount", line)
		}
		addr, err := crypto.DecodeAddress(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount: %w", line, err)
		}
		var recipient [20]byte
		copy(recipient[:], addr.Bytes())
		entries = append(entries, airdrop.LeafEntry{Recipient: recipient, Amount: amount})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func merkleRoot(path string) {
	entries, err := loadAllocations(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	tree, err := airdrop.NewTree(entries)
	if err != nil {
		fmt.Printf("Error building tree: %v\n", err)
		return
	}
	root := tree.Root()
	fmt.Printf("Leaves: %d\n", len(entries))
	fmt.Printf("Root:   0x%s\n", hex.EncodeToString(root[:]))
}

func merkleProof(path, recipientStr, amountStr string) {
	entries, err := loadAllocations(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	tree, err := airdrop.NewTree(entries)
	if err != nil {
		fmt.Printf("Error building tree: %v\n", err)
		return
	}
	addr, err := crypto.DecodeAddress(recipientStr)
	if err != nil {
		fmt.Printf("Error: invalid recipient: %v\n", err)
		return
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid amount: %v\n", err)
		return
	}
	var recipient [20]byte
	copy(recipient[:], addr.Bytes())
	proof, err := tree.Proof(recipient, amount)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	nodes := make([]string, len(proof))
	for i, node := range proof {
		nodes[i] = "0x" + hex.EncodeToString(node[:])
	}
	root := tree.Root()
	out, _ := json.MarshalIndent(map[string]interface{}{
		"root":      "0x" + hex.EncodeToString(root[:]),
		"recipient": recipientStr,
		"amount":    amountStr,
		"proof":     nodes,
	}, "", "  ")
	fmt.Println(string(out))
}

func initPool(adminStr, rootStr, startStr, custody, rewardsFile string) {
	startTime, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid start time: %v\n", err)
		return
	}
	raw, err := os.ReadFile(rewardsFile)
	if err != nil {
		fmt.Printf("Error reading rewards file: %v\n", err)
		return
	}
	var rewards []string
	if err := json.Unmarshal(raw, &rewards); err != nil {
		fmt.Printf("Error parsing rewards file: %v\n", err)
		return
	}
	result, err := callRPC("airdrop_init", map[string]interface{}{
		"admin":        adminStr,
		"root":         rootStr,
		"startTime":    startTime,
		"custody":      custody,
		"dailyRewards": rewards,
	}, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func claim(pool, recipient, amount, proofFile string) {
	raw, err := os.ReadFile(proofFile)
	if err != nil {
		fmt.Printf("Error reading proof file: %v\n", err)
		return
	}
	var proofDoc struct {
		Proof []string `json:"proof"`
	}
	if err := json.Unmarshal(raw, &proofDoc); err != nil {
		fmt.Printf("Error parsing proof file: %v\n", err)
		return
	}
	result, err := callRPC("airdrop_claim", map[string]interface{}{
		"pool":      pool,
		"recipient": recipient,
		"amount":    amount,
		"proof":     proofDoc.Proof,
	}, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func snapshot(pool string) {
	result, err := callRPC("airdrop_snapshot", map[string]interface{}{"pool": pool}, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func unstake(pool, owner string) {
	result, err := callRPC("airdrop_unstake", map[string]interface{}{"pool": pool, "owner": owner}, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func preview(pool, owner string, rest []string) {
	params := map[string]interface{}{"pool": pool, "owner": owner}
	if len(rest) > 0 {
		epoch, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			fmt.Printf("Error: invalid epoch: %v\n", err)
			return
		}
		params["epoch"] = epoch
	}
	result, err := callRPC("airdrop_previewRewards", params, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func adminCall(command, pool, caller string) {
	result, err := callRPC("airdrop_"+command, map[string]interface{}{"pool": pool, "caller": caller}, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func query(method string, params map[string]interface{}) {
	result, err := callRPC(method, params, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func callRPC(method string, params map[string]interface{}, requireAuth bool) (json.RawMessage, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": []interface{}{params},
	})
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires STAKEDROP_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func printUsage() {
	fmt.Println("Usage: stakedrop-cli [--rpc <url>] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key                                        - Generate a new wallet key")
	fmt.Println("  merkle-root <alloc.csv>                             - Build the allocation tree and print its root")
	fmt.Println("  merkle-proof <alloc.csv> <recipient> <amount>       - Print the proof for one allocation")
	fmt.Println("  init <admin> <root> <start> <custody> <rewards.json> - Initialize a pool (requires auth token)")
	fmt.Println("  claim <pool> <recipient> <amount> <proof.json>      - Claim an allocation into a stake")
	fmt.Println("  snapshot <pool>                                     - Record pending daily snapshots")
	fmt.Println("  unstake <pool> <owner>                              - Exit a stake and settle rewards")
	fmt.Println("  preview <pool> <owner> [epoch]                      - Preview accrued or per-epoch rewards")
	fmt.Println("  pause|unpause|terminate|recover|close <pool> <admin> - Pool administration (requires auth token)")
	fmt.Println("  get-pool <pool>                                     - Show a pool record")
	fmt.Println("  get-stake <pool> <owner>                            - Show a stake record")
	fmt.Println("  balance <address>                                   - Show an account balance")
	fmt.Println("  events                                              - Show recent module events")
}
