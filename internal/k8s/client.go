/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package k8s provides utilities for creating Kubernetes clients.
package k8s

import (
	"errors"

	appsv1 "k8s.io/api/apps/v1"
	authorizationv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
)

// InClusterConfig is the string value that indicates in-cluster config should be used.
const InClusterConfig = "in-cluster"

var errNilRestConfig = errors.New("rest config must not be nil")

// NewKubeRestConfig creates a Kubernetes REST config from the given kubeconfig path.
// An empty path follows the default loading rules ($KUBECONFIG, then ~/.kube/config).
func NewKubeRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == InClusterConfig {
		return rest.InClusterConfig()
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = kubeconfigPath

	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// NewScheme returns the scheme of every kind tenantprobe reads or writes.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()

	for _, add := range []func(*runtime.Scheme) error{
		corev1.AddToScheme,
		appsv1.AddToScheme,
		rbacv1.AddToScheme,
		authorizationv1.AddToScheme,
		cluster.AddToScheme,
	} {
		if err := add(scheme); err != nil {
			return nil, err
		}
	}

	return scheme, nil
}

// NewKubeClient creates a Kubernetes client with the tenantprobe scheme.
func NewKubeClient(restConfig *rest.Config) (client.Client, error) { //nolint:ireturn
	if restConfig == nil {
		return nil, errNilRestConfig
	}

	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}

	return client.New(restConfig, client.Options{Scheme: scheme}) //nolint:exhaustruct
}

// NewDiscoveryClient creates a discovery client for restConfig.
func NewDiscoveryClient(restConfig *rest.Config) (discovery.DiscoveryInterface, error) { //nolint:ireturn
	if restConfig == nil {
		return nil, errNilRestConfig
	}

	return discovery.NewDiscoveryClientForConfig(restConfig)
}
