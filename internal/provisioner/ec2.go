// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provisioner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

const searchIDTag = "goldnonce:search-id"

// EC2 launches one instance per worker with the startup script as user data
type EC2 struct {
	client     ec2iface.EC2API
	iamProfile string
}

type ec2Instance struct {
	id     string
	client ec2iface.EC2API
}

func NewEC2FromRegion(region string, iamProfile string) (*EC2, error) {
	sess, err := session.NewSession(
		&aws.Config{
			Region: aws.String(region),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewEC2(ec2.New(sess), iamProfile), nil
}

func NewEC2(client ec2iface.EC2API, iamProfile string) *EC2 {
	return &EC2{
		client:     client,
		iamProfile: iamProfile,
	}
}

func (e *EC2) Provision(ctx context.Context, spec LaunchSpec) (Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.Image),
		InstanceType: aws.String(spec.MachineClass),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		UserData: aws.String(
			base64.StdEncoding.EncodeToString([]byte(spec.StartupScript)),
		),
		TagSpecifications: []*ec2.TagSpecification{
			{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags: []*ec2.Tag{
					{
						Key:   aws.String(searchIDTag),
						Value: aws.String(spec.Assignment.SearchID),
					},
				},
			},
		},
	}
	if e.iamProfile != "" {
		input.IamInstanceProfile = &ec2.IamInstanceProfileSpecification{
			Arn: aws.String(e.iamProfile),
		}
	}
	out, err := e.client.RunInstancesWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return nil, errors.New("run instances returned no instance")
	}
	return &ec2Instance{
		id:     aws.StringValue(out.Instances[0].InstanceId),
		client: e.client,
	}, nil
}

func (e *EC2) Terminate(ctx context.Context, instance Instance) error {
	_, err := e.client.TerminateInstancesWithContext(
		ctx,
		&ec2.TerminateInstancesInput{
			InstanceIds: aws.StringSlice([]string{instance.ID()}),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instance.ID(), err)
	}
	return nil
}

func (i *ec2Instance) ID() string {
	return i.id
}

func (i *ec2Instance) WaitUntilRunning(ctx context.Context) error {
	input := &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice([]string{i.id}),
	}
	if err := i.client.WaitUntilInstanceRunningWithContext(ctx, input); err != nil {
		return fmt.Errorf("instance %s did not reach running: %w", i.id, err)
	}
	// Report the public address, which is handy when debugging a worker
	out, err := i.client.DescribeInstancesWithContext(ctx, input)
	if err != nil {
		return nil
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			slog.Info(
				fmt.Sprintf(
					"instance %s running at %s",
					i.id,
					aws.StringValue(inst.PublicDnsName),
				),
			)
		}
	}
	return nil
}
