package dispatch

import "sort"

// ServiceType identifies this dispatcher family in system.describe output.
const ServiceType = "Switchboard JSONRPC+XMLRPC"

// ServiceDescription is the system.describe payload.
type ServiceDescription struct {
	ServiceType string              `json:"serviceType"`
	ServiceURL  string              `json:"serviceURL"`
	Methods     []MethodDescription `json:"methods"`
}

// MethodDescription describes one callable procedure.
type MethodDescription struct {
	Name    string             `json:"name"`
	Summary string             `json:"summary"`
	Params  []ParamDescription `json:"params"`
	Return  string             `json:"return"`
}

// ParamDescription pairs a parameter name with its published wire type.
type ParamDescription struct {
	Name    string `json:"name"`
	RPCType string `json:"rpctype"`
}

// introspectionMethods builds the self-description procedures. The
// coordinator registers them ahead of user methods, so their names cannot
// be taken over by later registrations.
func (c *Coordinator) introspectionMethods() []Method {
	return []Method{
		{
			Name:      "system.listMethods",
			Func:      c.systemListMethods,
			Params:    []string{},
			Signature: []string{"array"},
			Doc:       "Returns a list of the methods this service exposes, sorted by name.",
		},
		{
			Name:      "system.methodHelp",
			Func:      c.systemMethodHelp,
			Params:    []string{"method_name"},
			Signature: []string{"string", "string"},
			Doc:       "Returns documentation for the named method.",
		},
		{
			Name:      "system.methodSignature",
			Func:      c.systemMethodSignature,
			Params:    []string{"method_name"},
			Signature: []string{"array", "string"},
			Doc:       "Returns the type signature of the named method: return type first, then one entry per parameter.",
		},
		{
			Name:      "system.describe",
			Func:      c.systemDescribe,
			Params:    []string{},
			Signature: []string{"struct"},
			Doc:       "Returns a machine-readable description of every method this service exposes.",
		},
	}
}

func (c *Coordinator) systemListMethods() []string {
	all := c.registry.All()
	names := make([]string, 0, len(all))
	for _, d := range all {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names
}

func (c *Coordinator) systemMethodHelp(name string) (string, error) {
	d, ok := c.registry.Lookup(name)
	if !ok {
		return "", Faultf(CodeApplication, "no method found with name: %s", name)
	}
	return d.Doc(), nil
}

func (c *Coordinator) systemMethodSignature(name string) ([]string, error) {
	d, ok := c.registry.Lookup(name)
	if !ok {
		return nil, Faultf(CodeApplication, "no method found with name: %s", name)
	}
	return d.Signature(), nil
}

func (c *Coordinator) systemDescribe() ServiceDescription {
	all := c.registry.All()
	methods := make([]MethodDescription, 0, len(all))
	for _, d := range all {
		published := d.Parameters()
		params := make([]ParamDescription, 0, len(published))
		for _, p := range published {
			params = append(params, ParamDescription{Name: p.Name, RPCType: p.Type})
		}
		methods = append(methods, MethodDescription{
			Name:    d.Name(),
			Summary: d.Doc(),
			Params:  params,
			Return:  d.ReturnType(),
		})
	}
	return ServiceDescription{
		ServiceType: ServiceType,
		ServiceURL:  c.serviceURL,
		Methods:     methods,
	}
}
