package core

// ShallowMerge implements the injection pipeline's merge rule: if both
// base and overlay are JSON objects, keys from overlay override keys on
// base (recursing no further than one level); otherwise overlay entirely
// replaces base, unless overlay is nil, in which case base is kept.
func ShallowMerge(base, overlay any) any {
	if overlay == nil {
		return base
	}
	baseObj, baseIsObj := asObject(base)
	overlayObj, overlayIsObj := asObject(overlay)
	if !baseIsObj || !overlayIsObj {
		return overlay
	}
	merged := make(map[string]any, len(baseObj)+len(overlayObj))
	for k, v := range baseObj {
		merged[k] = v
	}
	for k, v := range overlayObj {
		merged[k] = v
	}
	return merged
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	default:
		m, err := toJSONMap(v)
		if err != nil {
			return nil, false
		}
		return m, true
	}
}
