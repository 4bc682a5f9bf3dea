package ecoscan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reward is one item in the redemption catalog
type Reward struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Points int    `yaml:"points" json:"points"`
}

// RewardStatus is a Reward plus whether the balance covers it
type RewardStatus struct {
	Reward
	Affordable bool `json:"affordable"`
}

// Rewards is an ordered, read-only reward catalog
type Rewards struct {
	items []Reward
	byID  map[string]Reward
}

type rewardsFile struct {
	Rewards []Reward `yaml:"rewards"`
}

// LoadRewards reads a YAML catalog from path
func LoadRewards(path string) (*Rewards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rewards file: %w", err)
	}
	return ParseRewards(data)
}

// ParseRewards decodes a YAML catalog of the form
//
//	rewards:
//	  - id: pulsa-5k
//	    name: Pulsa 5.000
//	    points: 50
func ParseRewards(data []byte) (*Rewards, error) {
	var f rewardsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rewards: %w", err)
	}

	r := &Rewards{byID: make(map[string]Reward, len(f.Rewards))}
	for i, item := range f.Rewards {
		item.ID = strings.TrimSpace(item.ID)
		item.Name = strings.TrimSpace(item.Name)
		switch {
		case item.ID == "":
			return nil, fmt.Errorf("reward %d: id is required", i)
		case item.Name == "":
			return nil, fmt.Errorf("reward %s: name is required", item.ID)
		case item.Points <= 0:
			return nil, fmt.Errorf("reward %s: points must be positive", item.ID)
		}
		if _, dup := r.byID[item.ID]; dup {
			return nil, fmt.Errorf("reward %s: duplicate id", item.ID)
		}
		r.byID[item.ID] = item
		r.items = append(r.items, item)
	}
	return r, nil
}

// List returns the catalog in file order
func (r *Rewards) List() []Reward {
	if r == nil {
		return []Reward{}
	}
	out := make([]Reward, len(r.items))
	copy(out, r.items)
	return out
}

// Find looks a reward up by id
func (r *Rewards) Find(id string) (Reward, bool) {
	if r == nil {
		return Reward{}, false
	}
	item, ok := r.byID[id]
	return item, ok
}
