/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package observation groups FHIR Observation resources by the codes of their CodeableConcept properties.
package observation

// Index maps a coding code to the observations having that code, in the order they were indexed.
type Index map[string][]map[string]interface{}

// ByCode indexes the observations by the codes found in the given CodeableConcept property
// (for example "code" or "category"). The property may hold a single concept or a list of them.
// observations may be a single resource map or a list of them. Resources other than Observation are skipped.
// An observation having several codings appears under each of their codes.
func ByCode(observations interface{}, property string) Index {
	index := Index{}
	for _, o := range asResources(observations) {
		if o["resourceType"] != "Observation" {
			continue
		}
		switch concept := o[property].(type) {
		case []interface{}:
			for _, c := range concept {
				index.addConcept(c, o)
			}
		case map[string]interface{}:
			index.addConcept(concept, o)
		}
	}
	return index
}

// ByCodes returns a filter over the observations indexed by ByCode.
// The filter returns the observations of every requested code, concatenated in the order of the codes.
// Unknown codes contribute nothing. The returned slice is never nil.
func ByCodes(observations interface{}, property string) func(codes ...string) []map[string]interface{} {
	index := ByCode(observations, property)
	return index.Get
}

// Get returns the observations of the codes, concatenated in the order of the codes. It never returns nil.
func (idx Index) Get(codes ...string) []map[string]interface{} {
	result := make([]map[string]interface{}, 0)
	for _, code := range codes {
		result = append(result, idx[code]...)
	}
	return result
}

func (idx Index) addConcept(concept interface{}, o map[string]interface{}) {
	c, ok := concept.(map[string]interface{})
	if !ok {
		return
	}
	codings, _ := c["coding"].([]interface{})
	for _, coding := range codings {
		m, ok := coding.(map[string]interface{})
		if !ok {
			continue
		}
		if code, ok := m["code"].(string); ok && code != "" {
			idx[code] = append(idx[code], o)
		}
	}
}

func asResources(v interface{}) []map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{t}
	case []map[string]interface{}:
		return t
	case []interface{}:
		resources := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				resources = append(resources, m)
			}
		}
		return resources
	}
	return nil
}
