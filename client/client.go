package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/twopc-transfer/common"
)

var (
	// CmdRegex splits the REPL line, keeping quoted segments together.
	CmdRegex = regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)\n`)
)

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func addURLScheme(s string) string {
	if strings.HasPrefix(s, "https://") {
		return strings.Replace(s, "https://", "http://", 1)
	} else if !strings.HasPrefix(s, "http://") {
		return "http://" + s
	}
	return s
}

// TransferClient is an interactive client for the coordinator HTTP API.
type TransferClient struct {
	client     *http.Client
	serverAddr string
	reader     *bufio.Reader
}

// NewTransferClient ...
func NewTransferClient(serverAddr string) *TransferClient {
	return &TransferClient{
		client:     &http.Client{Timeout: 30 * time.Second},
		serverAddr: addURLScheme(serverAddr),
		reader:     bufio.NewReader(os.Stdin),
	}
}

func (c *TransferClient) readString() []string {
	fmt.Print("> ")
	cmdStr, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			os.Exit(0)
		}
		fmt.Println(err)
		return nil
	}
	cmdStr = strings.TrimSuffix(cmdStr, "\n")
	cmdArr := CmdRegex.FindAllString(cmdStr, -1)
	for i := range cmdArr {
		cmdArr[i] = strings.Trim(cmdArr[i], "'\"")
	}
	return cmdArr
}

func (c *TransferClient) endpoint(parts ...string) string {
	u, _ := url.Parse(c.serverAddr)
	u.Path = "/" + strings.Join(parts, "/")
	return u.String()
}

func (c *TransferClient) postJSON(endpoint string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *TransferClient) getJSON(endpoint string, out interface{}) error {
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode != http.StatusOK {
		var e map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e["error"] != "" {
			return errors.New(e["error"])
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Transfer runs one transfer and prints the outcome.
func (c *TransferClient) Transfer(from, to string, amount int64) error {
	var res common.TransferResult
	body := map[string]interface{}{"from": from, "to": to, "amount": amount}
	if err := c.postJSON(c.endpoint("transfer"), body, &res); err != nil {
		return err
	}

	switch res.Outcome {
	case common.Committed:
		color.Green("[txid %s] COMMITTED: %d moved from %s to %s", res.TxID, amount, from, to)
	case common.Degraded:
		color.Yellow("[txid %s] DEGRADED: %s", res.TxID, res.Reason)
	default:
		color.Red("[txid %s] ABORTED: %s", res.TxID, res.Reason)
	}
	for id, vote := range res.Votes {
		fmt.Printf("  %s voted %s %s\n", id, vote.Status, vote.Reason)
	}
	return nil
}

// Balance prints one participant's balance.
func (c *TransferClient) Balance(id string) error {
	var out map[string]interface{}
	if err := c.getJSON(c.endpoint("balance", id), &out); err != nil {
		return err
	}
	fmt.Printf("%s: %v\n", id, out["balance"])
	return nil
}

// Balances prints all balances.
func (c *TransferClient) Balances() error {
	var out map[string]interface{}
	if err := c.getJSON(c.endpoint("balances"), &out); err != nil {
		return err
	}
	for id, balance := range out {
		fmt.Printf("%s: %v\n", id, balance)
	}
	return nil
}

// History prints a participant's audit journal.
func (c *TransferClient) History(id string) error {
	var entries []common.AuditEntry
	if err := c.getJSON(c.endpoint("history", id), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("[txid %s] %s %s %d -> balance %d (%s)\n",
			e.TxID, e.Outcome, e.Operation, e.Amount, e.Balance, e.Reason)
	}
	return nil
}

// InjectFailure arms or clears a fault on a participant.
func (c *TransferClient) InjectFailure(id string, kind common.FailureKind, delayMS int64) error {
	var out map[string]interface{}
	body := map[string]interface{}{"kind": kind, "delay_ms": delayMS}
	if err := c.postJSON(c.endpoint("failure", id), body, &out); err != nil {
		return err
	}
	color.Yellow("%s failure mode set to %s", id, kind)
	return nil
}

func (c *TransferClient) usage() {
	fmt.Println(`Commands:
  xfer <from> <to> <amount>   run an atomic transfer
  balance <id>                show one balance
  balances                    show all balances
  history <id>                show a participant's audit journal
  crash <id>                  make a participant unresponsive
  restart <id>                clear an injected failure
  delay <id> <ms>             delay a participant's prepare handling
  exit`)
}

// Run starts the REPL loop.
func (c *TransferClient) Run() {
	for {
		cmdArr := c.readString()
		if len(cmdArr) == 0 {
			continue
		}
		var err error
		switch strings.ToLower(cmdArr[0]) {
		case "xfer":
			if len(cmdArr) != 4 {
				err = errors.New("invalid xfer command. Correct syntax: xfer [from] [to] [amount]")
				break
			}
			var amount int64
			if amount, err = parseInt64(cmdArr[3]); err != nil {
				err = fmt.Errorf("error parsing %s as amount", cmdArr[3])
				break
			}
			err = c.Transfer(cmdArr[1], cmdArr[2], amount)
		case "balance":
			if len(cmdArr) != 2 {
				err = errors.New("invalid balance command. Correct syntax: balance [id]")
				break
			}
			err = c.Balance(cmdArr[1])
		case "balances":
			err = c.Balances()
		case "history":
			if len(cmdArr) != 2 {
				err = errors.New("invalid history command. Correct syntax: history [id]")
				break
			}
			err = c.History(cmdArr[1])
		case "crash":
			if len(cmdArr) != 2 {
				err = errors.New("invalid crash command. Correct syntax: crash [id]")
				break
			}
			err = c.InjectFailure(cmdArr[1], common.FailureCrash, 0)
		case "restart":
			if len(cmdArr) != 2 {
				err = errors.New("invalid restart command. Correct syntax: restart [id]")
				break
			}
			err = c.InjectFailure(cmdArr[1], common.FailureNone, 0)
		case "delay":
			if len(cmdArr) != 3 {
				err = errors.New("invalid delay command. Correct syntax: delay [id] [ms]")
				break
			}
			var ms int64
			if ms, err = parseInt64(cmdArr[2]); err != nil {
				err = fmt.Errorf("error parsing %s as milliseconds", cmdArr[2])
				break
			}
			err = c.InjectFailure(cmdArr[1], common.FailureDelay, ms)
		case "help":
			c.usage()
		case "exit":
			return
		default:
			c.usage()
		}
		if err != nil {
			color.Red("%s", err)
		}
	}
}
