package local

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/denisbrodbeck/machineid"

	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/task"
)

// Node describes the machine tasks run on.
type Node struct {
	ID        ids.NodeID
	Hostname  string
	Resources task.Resources
}

func NewNode() *Node {
	return &Node{
		Resources: task.Resources{},
	}
}

// NewNodeWithDefaults creates a node with a stable id derived from the
// machine, one CPU resource per core and a resource named after the host.
func NewNodeWithDefaults() *Node {
	n := NewNode()
	n.ID = machineNodeID()
	n.Resources["CPU"] = float64(runtime.NumCPU())
	if hostname, err := os.Hostname(); err == nil {
		n.Hostname = hostname
		n.Resources["node:"+hostname] = 1
	}
	return n
}

// Returns an id that is the same for all workers on this machine,
// or a random id if the machine cannot be identified.
func machineNodeID() ids.NodeID {
	id, err := machineid.ProtectedID("jolt-bridge")
	if err != nil {
		return ids.NewNodeID()
	}

	data, err := hex.DecodeString(id)
	if err != nil || len(data) < ids.NodeIDSize {
		return ids.NewNodeID()
	}
	return ids.MustNodeIDFromBinary(data[:ids.NodeIDSize])
}

// Fulfills checks if the node has enough of every required resource.
func (n *Node) Fulfills(required task.Resources) bool {
	return required.Fits(n.Resources)
}

// AddResources parses "name=quantity" entries and adds them to the node,
// replacing defaults with the same name.
func (n *Node) AddResources(entries []string) error {
	resources, err := task.ParseResources(entries)
	if err != nil {
		return err
	}
	for name, quantity := range resources {
		n.Resources[name] = quantity
	}
	return nil
}

// String returns a string representation of the node.
func (n *Node) String() string {
	names := make([]string, 0, len(n.Resources))
	for name := range n.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	data := bytes.Buffer{}
	fmt.Fprintf(&data, "node.id=%s\n", n.ID.Hex())
	for _, name := range names {
		fmt.Fprintf(&data, "%s=%v\n", name, n.Resources[name])
	}
	return data.String()
}
