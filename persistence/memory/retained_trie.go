package memory

import (
	"strings"

	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

// retainTrie
type retainTrie struct {
	children map[string]*retainTrie
	msg      *models.RetainedMessage
	// pointer of parent node
	parent    *retainTrie
	topicName string
	level     string
}

// newRetainTrie create a new trie tree
func newRetainTrie() *retainTrie {
	return &retainTrie{
		children: make(map[string]*retainTrie),
	}
}

// newChild create a child node of t
func (t *retainTrie) newChild(level string) *retainTrie {
	n := newRetainTrie()
	n.parent = t
	n.level = level
	return n
}

// find walk through the tire and return the node that represent the topicName
// return nil if not found
func (t *retainTrie) find(topicName string) *retainTrie {
	var pNode = t
	for _, lv := range strings.Split(topicName, "/") {
		n, ok := pNode.children[lv]
		if !ok {
			return nil
		}
		pNode = n
	}
	if pNode.msg != nil {
		return pNode
	}
	return nil
}

// matchTopic walk through the tire and call the fn callback for each message witch match the topic filter.
// It returns false once fn asked to stop.
func (t *retainTrie) matchTopic(topicSlice []string, fn persistence.RetainedIterateFn) bool {
	endFlag := len(topicSlice) == 1
	switch topicSlice[0] {
	case "#":
		return t.preOrderTraverse(fn)
	case "+":
		// match all the current layer
		for _, v := range t.children {
			if !v.visit(topicSlice, endFlag, fn) {
				return false
			}
		}
	default:
		if n := t.children[topicSlice[0]]; n != nil {
			return n.visit(topicSlice, endFlag, fn)
		}
	}
	return true
}

func (t *retainTrie) visit(topicSlice []string, endFlag bool, fn persistence.RetainedIterateFn) bool {
	if !endFlag {
		return t.matchTopic(topicSlice[1:], fn)
	}
	if t.msg != nil {
		return fn(t.msg)
	}
	return true
}

// addRetainMsg add a retain message and returns the one it replaced.
func (t *retainTrie) addRetainMsg(topicName string, message *models.RetainedMessage) *models.RetainedMessage {
	var pNode = t
	for _, lv := range strings.Split(topicName, "/") {
		if _, ok := pNode.children[lv]; !ok {
			pNode.children[lv] = pNode.newChild(lv)
		}
		pNode = pNode.children[lv]
	}
	prev := pNode.msg
	pNode.msg = message
	pNode.topicName = topicName
	return prev
}

// remove deletes the message of topicName, pruning the nodes left empty, and returns it.
func (t *retainTrie) remove(topicName string) *models.RetainedMessage {
	pNode := t.find(topicName)
	if pNode == nil {
		return nil
	}
	removed := pNode.msg
	pNode.msg = nil
	for pNode.parent != nil && pNode.msg == nil && len(pNode.children) == 0 {
		delete(pNode.parent.children, pNode.level)
		pNode = pNode.parent
	}
	return removed
}

func (t *retainTrie) preOrderTraverse(fn persistence.RetainedIterateFn) bool {
	if t == nil {
		return false
	}
	if t.msg != nil {
		if !fn(t.msg) {
			return false
		}
	}
	for _, c := range t.children {
		if !c.preOrderTraverse(fn) {
			return false
		}
	}
	return true
}
