// This file contains the HCL decode structs. They mirror the surface syntax of
// a pipeline definition and are translated into the format-agnostic model by
// translate.go.

package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Layers []*layerBlock `hcl:"layer,block"`
	Stages []*stageBlock `hcl:"stage,block"`
	Remain hcl.Body      `hcl:",remain"`
}

type layerBlock struct {
	Name     string        `hcl:"name,label"`
	Context  *string       `hcl:"context,optional"`
	Manifest *string       `hcl:"manifest,optional"`
	Workdir  *string       `hcl:"workdir,optional"`
	Ignore   []string      `hcl:"ignore,optional"`
	Secrets  *secretsBlock `hcl:"secrets,block"`
	Install  *installBlock `hcl:"install,block"`
}

type secretsBlock struct {
	Source *string `hcl:"source,optional"`
	Path   *string `hcl:"path,optional"`
	Mode   *string `hcl:"mode,optional"`
}

type installBlock struct {
	Command     []string          `hcl:"command,optional"`
	CacheArgs   []string          `hcl:"cache_args,optional"`
	NoCacheArgs []string          `hcl:"no_cache_args,optional"`
	Inventory   []string          `hcl:"inventory,optional"`
	Env         map[string]string `hcl:"env,optional"`
	Timeout     *string           `hcl:"timeout,optional"`
}

// stageBlock decodes the stage header attributes; gate and launch are
// extracted from Body so that duplicates get a precise diagnostic.
type stageBlock struct {
	Name    string   `hcl:"name,label"`
	Layer   string   `hcl:"layer"`
	Require *string  `hcl:"require,optional"`
	Body    hcl.Body `hcl:",remain"`
}

var stageBodySchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "gate"},
		{Type: "launch"},
	},
}

type gateBlock struct {
	Command []string          `hcl:"command,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Marker  *string           `hcl:"marker,optional"`
	Timeout *string           `hcl:"timeout,optional"`
	Vars    []*varBlock       `hcl:"var,block"`
}

type launchBlock struct {
	Command     []string          `hcl:"command,optional"`
	EntryPoint  *string           `hcl:"entrypoint,optional"`
	Host        *string           `hcl:"host,optional"`
	Port        *int              `hcl:"port,optional"`
	Env         map[string]string `hcl:"env,optional"`
	GracePeriod *string           `hcl:"grace_period,optional"`
	Vars        []*varBlock       `hcl:"var,block"`
}

type varBlock struct {
	Name      string  `hcl:"name,label"`
	Fallback  *string `hcl:"fallback,optional"`
	Sensitive *bool   `hcl:"sensitive,optional"`
}
