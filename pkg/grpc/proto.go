package grpc

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// FindMethod searches the compiled files for a method with the given simple
// name (as declared in the .proto) and returns the first match together with
// its file.
func FindMethod(files linker.Files, methodName string) (protoreflect.FileDescriptor, protoreflect.MethodDescriptor, error) {
	for _, file := range files {
		for i := 0; i < file.Services().Len(); i++ {
			service := file.Services().Get(i)
			method := service.Methods().ByName(protoreflect.Name(methodName))
			if method != nil {
				return file, method, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("method %s not found in provided proto files", methodName)
}

// FullMethodName returns the wire path "/<package>.<Service>/<Method>".
func FullMethodName(fd protoreflect.FileDescriptor, md protoreflect.MethodDescriptor) string {
	service := string(md.Parent().Name())
	if pkg := string(fd.Package()); pkg != "" {
		service = pkg + "." + service
	}
	return "/" + service + "/" + string(md.Name())
}

// Compile compiles proto sources (filename to content) with the standard
// imports available. The input map is not modified.
func Compile(ctx context.Context, protoFiles map[string]string) (linker.Files, error) {
	if len(protoFiles) == 0 {
		return nil, fmt.Errorf("no proto files to compile")
	}
	accessor := protocompile.SourceAccessorFromMap(protoFiles)
	r := protocompile.WithStandardImports(&protocompile.SourceResolver{Accessor: accessor})
	compiler := protocompile.Compiler{
		Resolver:       r,
		SourceInfoMode: protocompile.SourceInfoStandard,
	}
	fds, err := compiler.Compile(ctx, slices.Sorted(maps.Keys(protoFiles))...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto files: %w", err)
	}
	return fds, nil
}
