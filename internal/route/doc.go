// Package route resolves inbound request paths to proxy routes.
//
// A route maps an Ant-style path pattern such as "/orders/**" to a backend
// location such as "http://orders:8080/orders". Routes are kept in a Table,
// which merges several sources (static configuration, a YAML route file and
// the Consul catalog) into one ordered list. The first matching route wins.
//
// Usage:
//
//	table, _ := route.NewTable(1024, nil)
//	r, _ := route.New("orders", "/orders/**", "http://orders:8080/orders", true)
//	table.Replace(route.SourceStatic, []route.Route{r})
//	if matched, ok := table.MatchingRoute("/orders/5"); ok {
//	    fmt.Println(matched.Location, matched.TargetPath("/orders/5"))
//	}
package route
