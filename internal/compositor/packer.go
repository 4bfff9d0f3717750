package compositor

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/store"
	"github.com/ecopia-map/city_tiler/tools"
	"github.com/klauspost/compress/zstd"
)

const (
	PackExtension = "cbdl"

	packMagic      = "cbdl"
	packVersion    = 1
	packHeaderSize = 28
)

// Feature table of a packed container. Object offsets refer to the decompressed body.
type FeatureTable struct {
	BatchLength  int            `json:"BATCH_LENGTH"`
	ResizeFactor float64        `json:"RESIZE_FACTOR"`
	AlphaMode    string         `json:"ALPHA_MODE"`
	Objects      []PackedObject `json:"OBJECTS"`
}

type PackedObject struct {
	ByteOffset int       `json:"byteOffset"`
	ByteLength int       `json:"byteLength"`
	Template   string    `json:"template,omitempty"`
	Transform  []float64 `json:"transform,omitempty"`
}

// Decoded content of a packed asset
type Container struct {
	FeatureTable FeatureTable
	BatchTable   map[string][]interface{}
	Body         []byte
}

// Compositor packing the documents of the kept objects, read from the worker's store
// handle, into one batched container with a zstd compressed body. Instanced objects
// sharing a template reference a single copy of the template document.
type Packer struct {
	store   store.GeometryStore
	filter  *VolumeFilter
	encoder *zstd.Encoder
}

func NewPacker(geometryStore store.GeometryStore, filter *VolumeFilter) (*Packer, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	return &Packer{
		store:   geometryStore,
		filter:  filter,
		encoder: encoder,
	}, nil
}

func (p *Packer) Compose(ctx context.Context, req *Request) (*Result, error) {
	kept, err := p.filter.Filter(req.Items, req.MinVolume)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return nil, nil
	}

	asset, err := p.pack(ctx, kept, req)
	if err != nil {
		return nil, err
	}

	return &Result{
		Asset:       asset,
		Extension:   PackExtension,
		BoundingBox: data.MergeItemBoundingBoxes(req.Items),
		Kept:        len(kept),
	}, nil
}

func (p *Packer) pack(ctx context.Context, items []data.GridItem, req *Request) ([]byte, error) {
	var body bytes.Buffer
	templateOffsets := make(map[string]PackedObject)

	featureTable := FeatureTable{
		BatchLength:  len(items),
		ResizeFactor: req.ResizeFactor,
		AlphaMode:    AlphaMode(req.AlphaEnabled),
		Objects:      make([]PackedObject, 0, len(items)),
	}

	for i := range items {
		geom, err := p.store.Get(ctx, items[i].Name)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", items[i].Name, err)
		}

		if geom.Instanced {
			object, ok := templateOffsets[geom.TemplateID]
			if !ok {
				object = PackedObject{ByteOffset: body.Len(), ByteLength: len(geom.Doc), Template: geom.TemplateID}
				body.Write(geom.Doc)
				templateOffsets[geom.TemplateID] = object
			}
			object.Transform = geom.Transform
			featureTable.Objects = append(featureTable.Objects, object)
			continue
		}

		featureTable.Objects = append(featureTable.Objects, PackedObject{ByteOffset: body.Len(), ByteLength: len(geom.Doc)})
		body.Write(geom.Doc)
	}

	featureTableBytes, err := json.Marshal(featureTable)
	if err != nil {
		return nil, err
	}
	batchTableBytes, err := json.Marshal(generateBatchTable(items))
	if err != nil {
		return nil, err
	}
	compressed := p.encoder.EncodeAll(body.Bytes(), nil)

	return generatePackByteArray(tools.PadJSONTo4Bytes(featureTableBytes), compressed, tools.PadJSONTo4Bytes(batchTableBytes)), nil
}

// One column per property, the name and type columns first, attribute columns aligned on
// the object order with nil for objects missing the attribute
func generateBatchTable(items []data.GridItem) map[string][]interface{} {
	batchTable := map[string][]interface{}{
		"name": make([]interface{}, len(items)),
		"type": make([]interface{}, len(items)),
	}

	keys := make(map[string]bool)
	for i := range items {
		for k := range items[i].Attributes {
			keys[k] = true
		}
	}
	attributeNames := make([]string, 0, len(keys))
	for k := range keys {
		if k != "name" && k != "type" {
			attributeNames = append(attributeNames, k)
		}
	}
	sort.Strings(attributeNames)
	for _, k := range attributeNames {
		batchTable[k] = make([]interface{}, len(items))
	}

	for i := range items {
		batchTable["name"][i] = items[i].Name
		batchTable["type"][i] = items[i].Type
		for _, k := range attributeNames {
			if v, ok := items[i].Attributes[k]; ok {
				batchTable[k][i] = v
			}
		}
	}
	return batchTable
}

func generatePackByteArray(featureTableBytes []byte, bodyBytes []byte, batchTableBytes []byte) []byte {
	byteLength := packHeaderSize + len(featureTableBytes) + len(bodyBytes) + len(batchTableBytes)
	outputByte := make([]byte, 0, byteLength)
	outputByte = append(outputByte, []byte(packMagic)...)                                   // magic
	outputByte = append(outputByte, tools.ConvertIntToByteArray(packVersion)...)            // version number
	outputByte = append(outputByte, tools.ConvertIntToByteArray(byteLength)...)             // total length
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(featureTableBytes))...) // feature table length
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(bodyBytes))...)         // feature table binary length
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(batchTableBytes))...)   // batch table length
	outputByte = append(outputByte, tools.ConvertIntToByteArray(0)...)                      // batch table binary length
	outputByte = append(outputByte, featureTableBytes...)
	outputByte = append(outputByte, bodyBytes...)
	outputByte = append(outputByte, batchTableBytes...)

	return outputByte
}

// Parses a container produced by the Packer
func DecodeContainer(content []byte) (*Container, error) {
	if len(content) < packHeaderSize || string(content[0:4]) != packMagic {
		return nil, errors.New("not a packed container")
	}
	header := make([]int, 6)
	for i := range header {
		header[i] = int(binary.LittleEndian.Uint32(content[4+i*4:]))
	}
	version, byteLength, ftJSONLen, ftBinLen, btJSONLen := header[0], header[1], header[2], header[3], header[4]
	if version != packVersion {
		return nil, fmt.Errorf("unsupported container version %d", version)
	}
	if byteLength != len(content) || packHeaderSize+ftJSONLen+ftBinLen+btJSONLen > len(content) {
		return nil, fmt.Errorf("container length mismatch: header %d, actual %d", byteLength, len(content))
	}

	container := &Container{}
	offset := packHeaderSize
	if err := json.Unmarshal(content[offset:offset+ftJSONLen], &container.FeatureTable); err != nil {
		return nil, fmt.Errorf("feature table: %w", err)
	}
	offset += ftJSONLen

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	container.Body, err = decoder.DecodeAll(content[offset:offset+ftBinLen], nil)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	offset += ftBinLen

	if err := json.Unmarshal(content[offset:offset+btJSONLen], &container.BatchTable); err != nil {
		return nil, fmt.Errorf("batch table: %w", err)
	}
	return container, nil
}

// Releases the encoder. The store handle is owned and closed by the caller.
func (p *Packer) Close() error {
	return p.encoder.Close()
}
