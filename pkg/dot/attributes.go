package dot

import (
	"fmt"
	"sort"
	"strings"
)

// AttributesToString formats DOT attributes as ` [k1="v1", k2="v2"]`, sorted by key. Values wrapped in
// `<...>` are HTML labels and are written unquoted.
func AttributesToString(attribs map[string]string) string {
	if len(attribs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attribs))
	for k := range attribs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, len(keys))
	for i, k := range keys {
		v := attribs[k]
		if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") && len(v) > 1 {
			list[i] = fmt.Sprintf("%s=%s", k, v)
			continue
		}
		list[i] = fmt.Sprintf(`%s="%s"`, k, strings.ReplaceAll(v, `"`, `\"`))
	}
	return " [" + strings.Join(list, ", ") + "]"
}
