package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

const decisionTreeType = "decision_tree"

type DecisionTree struct {
	featureNames []string
	classes      []string
	nodes        []TreeNode
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

// treeDocument is the on-disk form. Older artifacts are a bare node array.
type treeDocument struct {
	ModelType    string     `json:"model_type"`
	FeatureNames []string   `json:"feature_names,omitempty"`
	Classes      []string   `json:"classes,omitempty"`
	Nodes        []TreeNode `json:"nodes"`
}

// NewDecisionTree builds a tree from preorder nodes whose integer labels index
// classes.
func NewDecisionTree(featureNames, classes []string, nodes []TreeNode) (*DecisionTree, error) {
	if err := validateNodes(nodes, len(featureNames)); err != nil {
		return nil, err
	}
	return &DecisionTree{featureNames: featureNames, classes: classes, nodes: nodes}, nil
}

func (dt *DecisionTree) Classes() []string {
	return dt.classes
}

// Predict walks the tree. A NaN feature never satisfies "<= threshold", so
// missing values always take the right branch.
func (dt *DecisionTree) Predict(features []float64) (any, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrModelNotTrained
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return dt.label(node.ClassLabel), nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, fmt.Errorf("feature index %d out of range for %d features", node.FeatureIdx, len(features))
		}
		value := features[node.FeatureIdx]
		if !math.IsNaN(value) && value <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
	return nil, errors.New("tree traversal did not reach a leaf")
}

func (dt *DecisionTree) label(classLabel int) any {
	if classLabel >= 0 && classLabel < len(dt.classes) {
		return dt.classes[classLabel]
	}
	return classLabel
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrModelNotTrained
	}
	payload, err := json.MarshalIndent(treeDocument{
		ModelType:    decisionTreeType,
		FeatureNames: dt.featureNames,
		Classes:      dt.classes,
		Nodes:        dt.nodes,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return dt.UnmarshalJSON(payload)
}

// UnmarshalJSON accepts both the document form and a bare node array.
func (dt *DecisionTree) UnmarshalJSON(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return errors.New("empty model artifact")
	}

	var doc treeDocument
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Nodes); err != nil {
			return err
		}
	} else {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return err
		}
		if doc.ModelType != "" && doc.ModelType != decisionTreeType {
			return fmt.Errorf("%w: %q", ErrUnsupportedModelType, doc.ModelType)
		}
	}
	if err := validateNodes(doc.Nodes, len(doc.FeatureNames)); err != nil {
		return err
	}

	dt.featureNames = doc.FeatureNames
	dt.classes = doc.Classes
	dt.nodes = doc.Nodes
	return nil
}

func validateNodes(nodes []TreeNode, featureCount int) error {
	if len(nodes) == 0 {
		return ErrModelNotTrained
	}
	for i, node := range nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) || node.RightChild <= i || node.RightChild >= len(nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if node.FeatureIdx < 0 || (featureCount > 0 && node.FeatureIdx >= featureCount) {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
	}
	return nil
}
